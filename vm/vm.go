package vm

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/compiler"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/externals"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/value"
)

var log = commonlog.GetLogger("sanskrit.vm")

// Limits bounds the resources of one interpreter.
type Limits struct {
	// Stack is the operand stack capacity in values.
	Stack int
	// Frames is the maximum frame nesting.
	Frames int
	// Bytes and Fields size the data arena and the field heap.
	Bytes  int
	Fields int
}

// DefaultLimits are used when a zero Limits is passed to New.
var DefaultLimits = Limits{
	Stack:  1 << 14,
	Frames: 1 << 10,
	Bytes:  1 << 20,
	Fields: 1 << 18,
}

var (
	ErrStackOverflow = errs.New(errs.OutOfMemory, "operand stack exhausted")
	ErrFrameOverflow = errs.New(errs.OutOfMemory, "frame stack exhausted")
	ErrLimits        = errs.New(errs.OutOfMemory, "descriptor exceeds interpreter limits")
)

type frameKind uint8

const (
	frameFunction frameKind = iota
	frameBlock
	frameTry
)

// frame is an entered block. Return truncates the operand stack to base
// before pushing the block's results.
type frame struct {
	kind  frameKind
	block *compiler.Block
	pc    int
	base  int

	// Try frames restore these when one of their catches matches.
	mark    value.AllocMark
	catches []compiler.Catch
}

// VM executes descriptors. A VM is single-threaded; the values it returns
// live in its arenas until Reset.
type VM struct {
	limits Limits
	reg    *externals.Registry
	alloc  *value.Alloc

	d      *compiler.Descriptor
	stack  []value.Value
	frames []frame
	gas    uint64

	// Trace logs every executed op.
	Trace bool
}

// New creates an interpreter. Zero fields of limits take their defaults
// and a nil registry selects externals.Default.
func New(limits Limits, reg *externals.Registry) *VM {
	if limits.Stack == 0 {
		limits.Stack = DefaultLimits.Stack
	}
	if limits.Frames == 0 {
		limits.Frames = DefaultLimits.Frames
	}
	if limits.Bytes == 0 {
		limits.Bytes = DefaultLimits.Bytes
	}
	if limits.Fields == 0 {
		limits.Fields = DefaultLimits.Fields
	}
	if reg == nil {
		reg = externals.Default()
	}
	return &VM{
		limits: limits,
		reg:    reg,
		alloc:  value.NewAlloc(limits.Bytes, limits.Fields),
		stack:  make([]value.Value, 0, 64),
		frames: make([]frame, 0, 16),
	}
}

// Limits returns the effective limits.
func (vm *VM) Limits() Limits { return vm.limits }

// Alloc returns the arenas arguments and results live in.
func (vm *VM) Alloc() *value.Alloc { return vm.alloc }

// Reset frees every value allocated since the last Reset.
func (vm *VM) Reset() { vm.alloc.Reset() }

// Result is the outcome of a successful run.
type Result struct {
	Returns []value.Value
	GasUsed uint64
}

// Run executes d's entry with args and a gas budget. On failure GasUsed
// is what was consumed up to and including the failing op.
func (vm *VM) Run(d *compiler.Descriptor, args []value.Value, gas uint64) (Result, error) {
	if int(d.MaxStack) > vm.limits.Stack || int(d.MaxFrames) > vm.limits.Frames {
		return Result{}, ErrLimits
	}
	entry := d.Entry()
	if len(args) != int(entry.Params) {
		return Result{}, errs.Newf(errs.Integrity, "entry takes %d arguments, got %d", entry.Params, len(args))
	}

	vm.d, vm.gas = d, gas
	vm.stack = append(vm.stack[:0], args...)
	vm.frames = append(vm.frames[:0], frame{kind: frameFunction, block: &entry.Body})
	defer func() { vm.d = nil }()

	if err := vm.loop(); err != nil {
		vm.stack = vm.stack[:0]
		return Result{GasUsed: gas - vm.gas}, err
	}
	res := Result{Returns: make([]value.Value, len(vm.stack)), GasUsed: gas - vm.gas}
	copy(res.Returns, vm.stack)
	vm.stack = vm.stack[:0]
	return res, nil
}

func (vm *VM) loop() error {
	for len(vm.frames) > 0 {
		f := &vm.frames[len(vm.frames)-1]
		if f.pc >= len(f.block.Ops) {
			return errs.New(errs.Integrity, "block without terminator")
		}
		op := &f.block.Ops[f.pc]
		f.pc++
		if err := vm.charge(op.Gas); err != nil {
			return err
		}
		if vm.Trace {
			log.Debugf("%s depth %d stack %d gas %d", op.Code, len(vm.frames), len(vm.stack), vm.gas)
		}
		err := vm.exec(op)
		if err == nil {
			continue
		}
		var t *value.Throw
		if !errors.As(err, &t) {
			return err
		}
		if err := vm.throw(t); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) charge(n uint64) error {
	if n > vm.gas {
		vm.gas = 0
		return errs.ErrOutOfGas
	}
	vm.gas -= n
	return nil
}

// ---------------------------------------------------------------------------
// Stack and frames
// ---------------------------------------------------------------------------

func (vm *VM) push(v value.Value) error {
	if len(vm.stack) >= vm.limits.Stack {
		return ErrStackOverflow
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pushAll(vs []value.Value) error {
	if len(vm.stack)+len(vs) > vm.limits.Stack {
		return ErrStackOverflow
	}
	vm.stack = append(vm.stack, vs...)
	return nil
}

func (vm *VM) enter(f frame) error {
	if len(vm.frames) >= vm.limits.Frames {
		return ErrFrameOverflow
	}
	vm.frames = append(vm.frames, f)
	return nil
}

func (vm *VM) get(ref uint16) (value.Value, error) {
	i := len(vm.stack) - 1 - int(ref)
	if i < 0 {
		return value.Value{}, errs.Newf(errs.Integrity, "value ref %d out of range (stack %d)", ref, len(vm.stack))
	}
	return vm.stack[i], nil
}

func (vm *VM) collect(refs []uint16) ([]value.Value, error) {
	vs := make([]value.Value, len(refs))
	for i, r := range refs {
		v, err := vm.get(r)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

// call enters function fn with args already collected.
func (vm *VM) call(fn uint32, args []value.Value) error {
	if int(fn) >= len(vm.d.Functions) {
		return &value.Throw{ID: value.BadCallError, Reason: "function index out of range"}
	}
	callee := &vm.d.Functions[fn]
	if len(args) != int(callee.Params) {
		return &value.Throw{ID: value.BadCallError, Reason: "argument count mismatch"}
	}
	base := len(vm.stack)
	if err := vm.pushAll(args); err != nil {
		return err
	}
	return vm.enter(frame{kind: frameFunction, block: &callee.Body, base: base})
}

// throw unwinds to the innermost try frame with a catch for t. The operand
// stack and the arenas are restored to their state when the try was
// entered, and the handler starts with the error identity on top.
func (vm *VM) throw(t *value.Throw) error {
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := &vm.frames[i]
		if f.kind != frameTry {
			continue
		}
		for k := range f.catches {
			c := &f.catches[k]
			if int(c.Error) >= len(vm.d.Errors) || vm.d.Errors[c.Error].ID() != t.ID {
				continue
			}
			base, mark := f.base, f.mark
			vm.frames = vm.frames[:i]
			vm.stack = vm.stack[:base]
			if err := vm.alloc.Release(mark); err != nil {
				return errs.Wrap(errs.OutOfMemory, err, "restore arena")
			}
			ev, err := vm.alloc.Data(t.ID.Bytes())
			if err != nil {
				return err
			}
			log.Debugf("caught %s at depth %d", t.ID, i)
			if err := vm.enter(frame{kind: frameBlock, block: &c.Body, base: base}); err != nil {
				return err
			}
			return vm.push(ev)
		}
	}
	return t
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func (vm *VM) exec(op *compiler.Op) error {
	switch op.Code {
	case model.OpLet:
		return vm.enter(frame{kind: frameBlock, block: op.Body, base: len(vm.stack)})

	case model.OpId:
		v, err := vm.get(op.Value)
		if err != nil {
			return err
		}
		return vm.push(v)

	case model.OpVoid:
		return vm.push(value.Unit())

	case model.OpReturn:
		vs, err := vm.collect(op.Refs)
		if err != nil {
			return err
		}
		f := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.stack = vm.stack[:f.base]
		return vm.pushAll(vs)

	case model.OpRollback:
		if int(op.Error) >= len(vm.d.Errors) {
			return errs.Newf(errs.Integrity, "error index %d out of range", op.Error)
		}
		return &value.Throw{ID: vm.d.Errors[op.Error].ID()}

	case model.OpTry:
		return vm.enter(frame{
			kind:    frameTry,
			block:   op.Body,
			base:    len(vm.stack),
			mark:    vm.alloc.Mark(),
			catches: op.Catches,
		})

	case model.OpPack:
		vs, err := vm.collect(op.Refs)
		if err != nil {
			return err
		}
		v, err := vm.alloc.ADT(op.Tag, vs...)
		if err != nil {
			return err
		}
		return vm.push(v)

	case model.OpUnpack:
		v, err := vm.adt(op.Value)
		if err != nil {
			return err
		}
		if len(v.Fields) != int(op.Fields) {
			return &value.Throw{ID: value.BadTagError, Reason: "field count mismatch"}
		}
		return vm.pushAll(v.Fields)

	case model.OpSwitch:
		v, err := vm.adt(op.Value)
		if err != nil {
			return err
		}
		if int(v.Tag) >= len(op.Branches) || len(v.Fields) != int(op.Counts[v.Tag]) {
			return &value.Throw{ID: value.BadTagError, Reason: "constructor out of range"}
		}
		if err := vm.charge(op.Unit * uint64(op.Counts[v.Tag])); err != nil {
			return err
		}
		if err := vm.enter(frame{kind: frameBlock, block: &op.Branches[v.Tag], base: len(vm.stack)}); err != nil {
			return err
		}
		return vm.pushAll(v.Fields)

	case model.OpGet:
		v, err := vm.adt(op.Value)
		if err != nil {
			return err
		}
		if int(op.Fields) >= len(v.Fields) {
			return &value.Throw{ID: value.BadTagError, Reason: "field out of range"}
		}
		return vm.push(v.Fields[op.Fields])

	case model.OpInvoke:
		args, err := vm.collect(op.Refs)
		if err != nil {
			return err
		}
		return vm.call(op.Fn, args)

	case model.OpCreateSig:
		vs, err := vm.collect(op.Refs)
		if err != nil {
			return err
		}
		v, err := vm.alloc.Sig(op.Fn, vs...)
		if err != nil {
			return err
		}
		return vm.push(v)

	case model.OpInvokeSig:
		s, err := vm.get(op.Value)
		if err != nil {
			return err
		}
		if s.Kind != value.Sig {
			return &value.Throw{ID: value.BadCallError, Reason: "invoked value is not a signature"}
		}
		rest, err := vm.collect(op.Refs)
		if err != nil {
			return err
		}
		args := make([]value.Value, 0, len(s.Fields)+len(rest))
		args = append(append(args, s.Fields...), rest...)
		return vm.call(s.Fn, args)

	case model.OpSysInvoke, model.OpTypedSysInvoke:
		return vm.sys(op)

	case model.OpSpecialLit:
		v, err := value.IntFromBytes(op.Kind, op.Bytes)
		if err != nil {
			return err
		}
		return vm.push(v)

	case model.OpData:
		v, err := vm.alloc.Data(op.Bytes)
		if err != nil {
			return err
		}
		return vm.push(v)
	}
	return vm.arith(op)
}

func (vm *VM) adt(ref uint16) (value.Value, error) {
	v, err := vm.get(ref)
	if err != nil {
		return v, err
	}
	if v.Kind != value.ADT {
		return v, &value.Throw{ID: value.BadTagError, Reason: "value is not an ADT"}
	}
	return v, nil
}

func (vm *VM) sys(op *compiler.Op) error {
	var (
		ent *externals.Entry
		ok  bool
	)
	if op.Code == model.OpSysInvoke {
		ent, ok = vm.reg.Untyped(op.ID)
	} else {
		ent, ok = vm.reg.Typed(op.ID)
	}
	if !ok {
		return &value.Throw{ID: value.BadCallError, Reason: "unknown system call"}
	}
	args, err := vm.collect(op.Refs)
	if err != nil {
		return err
	}
	if len(args) != len(ent.Params) {
		return &value.Throw{ID: value.BadCallError, Reason: "system call arity mismatch"}
	}
	if ent.Dynamic != nil {
		if err := vm.charge(ent.Dynamic(op.Kind, args)); err != nil {
			return err
		}
	}
	v, err := ent.Fn(vm.alloc, op.Kind, args)
	if err != nil {
		return err
	}
	return vm.push(v)
}

func (vm *VM) arith(op *compiler.Op) error {
	a, err := vm.get(op.Value)
	if err != nil {
		return err
	}
	var v value.Value
	switch op.Code {
	case model.OpNot:
		v, err = value.Not(op.Kind, a)
	case model.OpToData:
		if !a.Kind.IsInt() || a.Kind != op.Kind {
			return &value.Throw{ID: value.BadCallError, Reason: "to_data on wrong kind"}
		}
		v, err = vm.alloc.Data(value.IntBytes(a))
	case model.OpFromData:
		if a.Kind != value.Data {
			return &value.Throw{ID: value.BadCallError, Reason: "from_data on non-data"}
		}
		v, err = value.IntFromBytes(op.Kind, a.Data)
	default:
		var b value.Value
		if b, err = vm.get(op.Other); err != nil {
			return err
		}
		v, err = vm.binary(op, a, b)
	}
	if err != nil {
		return err
	}
	return vm.push(v)
}

func (vm *VM) binary(op *compiler.Op, a, b value.Value) (value.Value, error) {
	switch op.Code {
	case model.OpAdd:
		return value.Add(op.Kind, a, b)
	case model.OpSub:
		return value.Sub(op.Kind, a, b)
	case model.OpMul:
		return value.Mul(op.Kind, a, b)
	case model.OpDiv:
		return value.Div(op.Kind, a, b)
	case model.OpAnd:
		return value.And(op.Kind, a, b)
	case model.OpOr:
		return value.Or(op.Kind, a, b)
	case model.OpXor:
		return value.Xor(op.Kind, a, b)
	case model.OpEq:
		if op.Kind == value.Data {
			n := max(len(a.Data), len(b.Data))
			if err := vm.charge(op.Unit * compiler.Words(n)); err != nil {
				return value.Value{}, err
			}
		}
		return value.Eq(op.Kind, a, b)
	case model.OpLt:
		return value.Lt(op.Kind, a, b)
	case model.OpGt:
		return value.Gt(op.Kind, a, b)
	case model.OpLte:
		return value.Lte(op.Kind, a, b)
	case model.OpGte:
		return value.Gte(op.Kind, a, b)
	}
	return value.Value{}, errs.Newf(errs.Integrity, "unknown opcode %s", op.Code)
}
