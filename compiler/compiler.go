// Package compiler turns validated transactions and functions into
// self-contained descriptors for the interpreter.
//
// Compilation walks the call DAG from the entry. Every reachable function
// and implement is lowered exactly once, in depth-first order: callables
// become indices into the descriptor's function table, errors indices into
// its error table, and permissions disappear. Each function records the
// gas, operand stack and frame depth of its most expensive path so that
// the executor can refuse a transaction before running it.
package compiler

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/checker"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/externals"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/store"
	"github.com/chazu/sanskrit/value"
)

var log = commonlog.GetLogger("sanskrit.compiler")

// Target names the entry of a descriptor: a deployed transaction or a
// non-generic function of a deployed module.
type Target struct {
	Transaction hash.Hash
	Module      hash.Hash
	Function    uint8
}

// TransactionTarget targets a deployed transaction.
func TransactionTarget(h hash.Hash) Target { return Target{Transaction: h} }

// FunctionTarget targets function off of module mod.
func FunctionTarget(mod hash.Hash, off uint8) Target { return Target{Module: mod, Function: off} }

// IsTransaction reports whether t targets a transaction.
func (t Target) IsTransaction() bool { return !t.Transaction.IsZero() }

// Key is the store key of t's descriptor.
func (t Target) Key() hash.Hash {
	if t.IsTransaction() {
		return t.Transaction
	}
	return hash.Derive(hash.DomainDescriptor, t.Module[:], []byte{t.Function})
}

func (t Target) String() string {
	if t.IsTransaction() {
		return "tx " + t.Transaction.Short()
	}
	return fmt.Sprintf("fn %s.%d", t.Module.Short(), t.Function)
}

// Compiler produces descriptors from the modules visible to a linker.
type Compiler struct {
	linker *linker.Linker
	reg    *externals.Registry
	sched  Schedule
}

// New creates a compiler. A nil registry selects externals.Default and a
// nil schedule DefaultSchedule.
func New(l *linker.Linker, reg *externals.Registry, sched *Schedule) *Compiler {
	if reg == nil {
		reg = externals.Default()
	}
	if sched == nil {
		sched = &DefaultSchedule
	}
	return &Compiler{linker: l, reg: reg, sched: *sched}
}

// Schedule returns the gas schedule descriptors are priced with.
func (c *Compiler) Schedule() *Schedule { return &c.sched }

// Compile builds the descriptor of t. The output depends only on the
// deployed modules, so compiling the same target twice yields identical
// encodings.
func (c *Compiler) Compile(t Target) (*Descriptor, error) {
	s := c.linker.Session()
	e := &emitter{
		Compiler: c,
		s:        s,
		chk:      checker.New(s, c.reg, false),
		index:    make(map[fnKey]uint32),
		errIndex: make(map[value.ErrorID]uint32),
	}

	var (
		sc *linker.Scope
		f  *model.FunctionComponent
	)
	if t.IsTransaction() {
		b, err := store.Load(c.linker.Store(), store.ClassTransaction, t.Transaction)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, errs.Newf(errs.Integrity, "transaction %s is not deployed", t.Transaction.Short())
		case err != nil:
			return nil, errs.Wrap(errs.Storage, err, "load transaction")
		}
		tx, err := model.ParseTransaction(b, c.linker.Depth())
		if err != nil {
			return nil, err
		}
		f = &tx.Func
		if sc, err = s.Resolve(hash.Zero, tx.Imports, &f.Header); err != nil {
			return nil, err
		}
	} else {
		var err error
		if f, err = s.Function(t.Module, t.Function); err != nil {
			return nil, err
		}
		if len(f.Header.Generics) > 0 {
			return nil, errs.Newf(errs.Capability, "%s is generic and cannot be an entry", t)
		}
		if sc, err = s.Scope(t.Module, model.KindFunction, t.Function); err != nil {
			return nil, err
		}
	}

	// Slot 0 is reserved for the entry before its callees are emitted.
	e.funcs = append(e.funcs, Function{})
	e.done = append(e.done, false)
	entry, err := e.function(sc, len(f.Params), len(f.Returns), &f.Body)
	if err != nil {
		return nil, err
	}
	e.funcs[0], e.done[0] = entry, true

	d := &Descriptor{
		Target:    t.Key(),
		Functions: e.funcs,
		Errors:    e.errors,
		MaxGas:    entry.Gas,
		MaxStack:  entry.Stack,
		MaxFrames: entry.Frames,
	}
	for _, p := range f.Params {
		ty, err := sc.Type(p.Type)
		if err != nil {
			return nil, err
		}
		dp, err := e.param(ty, p.Consume)
		if err != nil {
			return nil, err
		}
		d.Params = append(d.Params, dp)
	}
	for _, r := range f.Returns {
		ty, err := sc.Type(r)
		if err != nil {
			return nil, err
		}
		dp, err := e.param(ty, true)
		if err != nil {
			return nil, err
		}
		d.Returns = append(d.Returns, dp)
	}
	log.Debugf("compiled %s: %d functions, gas %d, stack %d, frames %d",
		t, len(d.Functions), d.MaxGas, d.MaxStack, d.MaxFrames)
	return d, nil
}

// Store writes d under t's key in the descriptor class and commits it.
func (c *Compiler) Store(t Target, d *Descriptor) error {
	b, err := d.Encode()
	if err != nil {
		return err
	}
	st := c.linker.Store()
	if err := st.Set(store.ClassDescriptor, t.Key(), b); err != nil {
		return errs.Wrap(errs.Storage, err, "store descriptor")
	}
	if err := st.Commit(store.ClassDescriptor); err != nil {
		return errs.Wrap(errs.Storage, err, "commit descriptor")
	}
	return nil
}

// Load reads the stored descriptor of t. ok is false when none is stored.
func (c *Compiler) Load(t Target) (d *Descriptor, ok bool, err error) {
	b, err := store.Load(c.linker.Store(), store.ClassDescriptor, t.Key())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, errs.Wrap(errs.Storage, err, "load descriptor")
	}
	d, err = DecodeDescriptor(b)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// ---------------------------------------------------------------------------
// Emitter
// ---------------------------------------------------------------------------

type fnKey struct {
	kind model.CallableKind
	mod  hash.Hash
	off  uint8
}

// emitter holds the state of one compilation. Lowering does not depend on
// type arguments, so every component is emitted once regardless of how
// many instantiations reach it.
type emitter struct {
	*Compiler
	s   *linker.Session
	chk *checker.Checker

	funcs []Function
	done  []bool
	index map[fnKey]uint32

	errors   []ErrorRef
	errIndex map[value.ErrorID]uint32
}

// stats is the static cost of a block's most expensive path. stack is an
// absolute height within the enclosing function frame; frames counts the
// frames opened below the block's own.
type stats struct {
	gas    uint64
	stack  int
	frames int
}

func (st *stats) at(h int) {
	if h > st.stack {
		st.stack = h
	}
}

func (st *stats) nest(frames int) {
	if frames > st.frames {
		st.frames = frames
	}
}

// callable returns the function index of cl, emitting it on first use.
func (e *emitter) callable(cl *linker.Callable) (uint32, error) {
	k := fnKey{cl.Kind, cl.Module, cl.Offset}
	if i, ok := e.index[k]; ok {
		if !e.done[i] {
			return 0, errs.Newf(errs.Cycle, "%s reaches itself", cl)
		}
		return i, nil
	}
	i := uint32(len(e.funcs))
	e.index[k] = i
	e.funcs = append(e.funcs, Function{})
	e.done = append(e.done, false)

	var (
		f   Function
		err error
	)
	if cl.Kind == model.CallFunction {
		f, err = e.functionComponent(cl.Module, cl.Offset)
	} else {
		f, err = e.implComponent(cl.Module, cl.Offset)
	}
	if err != nil {
		return 0, err
	}
	e.funcs[i], e.done[i] = f, true
	return i, nil
}

func (e *emitter) functionComponent(mod hash.Hash, off uint8) (Function, error) {
	fc, err := e.s.Function(mod, off)
	if err != nil {
		return Function{}, err
	}
	sc, err := e.s.Scope(mod, model.KindFunction, off)
	if err != nil {
		return Function{}, err
	}
	return e.function(sc, len(fc.Params), len(fc.Returns), &fc.Body)
}

func (e *emitter) implComponent(mod hash.Hash, off uint8) (Function, error) {
	im, err := e.s.Impl(mod, off)
	if err != nil {
		return Function{}, err
	}
	sc, err := e.s.Scope(mod, model.KindImplement, off)
	if err != nil {
		return Function{}, err
	}
	st, err := sc.Type(im.Sig)
	if err != nil {
		return Function{}, err
	}
	sig, err := e.chk.Signature(st)
	if err != nil {
		return Function{}, err
	}
	return e.function(sc, len(im.Captures)+len(sig.Params), len(sig.Returns), &im.Body)
}

func (e *emitter) function(sc *linker.Scope, params, returns int, body *model.Block) (Function, error) {
	b, st, err := e.block(sc, body, params)
	if err != nil {
		return Function{}, err
	}
	return Function{
		Params:  uint8(params),
		Returns: uint8(returns),
		Body:    b,
		Gas:     st.gas,
		Stack:   uint32(st.stack),
		Frames:  uint32(st.frames) + 1,
	}, nil
}

func (e *emitter) errorIndex(id value.ErrorID) uint32 {
	if i, ok := e.errIndex[id]; ok {
		return i
	}
	i := uint32(len(e.errors))
	e.errIndex[id] = i
	e.errors = append(e.errors, ErrorRef{Module: id.Module, Offset: id.Offset})
	return i
}

// block lowers b entered at stack height h.
func (e *emitter) block(sc *linker.Scope, b *model.Block, h int) (Block, stats, error) {
	out := Block{Ops: make([]Op, 0, len(b.Ops))}
	st := stats{stack: h}
	for i := range b.Ops {
		o := &b.Ops[i]
		lo, pushed, inner, err := e.op(sc, o, h)
		if err != nil {
			return Block{}, stats{}, fmt.Errorf("%s at %d: %w", o.Op, i, err)
		}
		out.Ops = append(out.Ops, lo)
		st.gas += inner.gas
		st.at(inner.stack)
		st.nest(inner.frames)
		h += pushed
		st.at(h)
	}
	return out, st, nil
}

// op lowers one operation at height h. It returns the number of values the
// operation leaves on the stack and the cost of the operation including
// nested blocks and callees.
func (e *emitter) op(sc *linker.Scope, o *model.OpCode, h int) (Op, int, stats, error) {
	sch := &e.sched
	lo := Op{Code: o.Op, Value: uint16(o.Value), Other: uint16(o.Other), Refs: refs(o.Refs), Kind: o.Kind}
	st := stats{stack: h}
	pushed := 1

	switch o.Op {
	case model.OpLet:
		b, inner, err := e.block(sc, &o.Body, h)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		n, err := results(&o.Body)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		lo.Body, lo.Gas = &b, sch.Let
		st.gas = inner.gas
		st.at(inner.stack)
		st.nest(inner.frames + 1)
		pushed = max(n, 0)

	case model.OpId:
		lo.Gas = sch.Id
	case model.OpVoid:
		lo.Gas = sch.Void

	case model.OpReturn:
		lo.Gas = sch.Return + sch.ReturnPerValue*uint64(len(o.Refs))
		pushed = 0

	case model.OpRollback:
		id, err := sc.Error(o.Error)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		lo.Gas, lo.Error = sch.Rollback, e.errorIndex(id)
		pushed = 0

	case model.OpTry:
		body, bst, err := e.block(sc, &o.Body, h)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		n, err := results(&o.Body)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		lo.Body, lo.Gas = &body, sch.Try
		st.gas = bst.gas
		st.at(bst.stack)
		st.nest(bst.frames + 1)
		var handlers uint64
		pushed = n
		for _, c := range o.Catches {
			id, err := sc.Error(c.Error)
			if err != nil {
				return Op{}, 0, stats{}, err
			}
			hb, hst, err := e.block(sc, &c.Body, h+1)
			if err != nil {
				return Op{}, 0, stats{}, err
			}
			lo.Catches = append(lo.Catches, Catch{Error: e.errorIndex(id), Body: hb})
			handlers = max(handlers, hst.gas)
			st.at(hst.stack)
			st.nest(hst.frames + 1)
			if pushed < 0 {
				if pushed, err = results(&c.Body); err != nil {
					return Op{}, 0, stats{}, err
				}
			}
		}
		st.gas += handlers
		pushed = max(pushed, 0)

	case model.OpPack:
		lo.Tag = o.Tag
		lo.Gas = sch.Pack + sch.PackPerField*uint64(len(o.Refs))

	case model.OpUnpack:
		n, err := e.unpackFields(sc, o.Perm)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		lo.Fields = uint8(n)
		lo.Gas = sch.Unpack + sch.UnpackPerField*uint64(n)
		pushed = n

	case model.OpSwitch:
		counts, err := e.switchFields(sc, o.Perm)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		if len(counts) != len(o.Branches) {
			return Op{}, 0, stats{}, errs.Newf(errs.Integrity, "switch has %d branches for %d constructors", len(o.Branches), len(counts))
		}
		lo.Counts, lo.Gas, lo.Unit = counts, sch.Switch, sch.SwitchPerField
		pushed = -1
		for tag := range o.Branches {
			br := &o.Branches[tag]
			b, bst, err := e.block(sc, br, h+int(counts[tag]))
			if err != nil {
				return Op{}, 0, stats{}, err
			}
			lo.Branches = append(lo.Branches, b)
			st.gas = max(st.gas, bst.gas+sch.SwitchPerField*uint64(counts[tag]))
			st.at(bst.stack)
			st.nest(bst.frames + 1)
			n, err := results(br)
			if err != nil {
				return Op{}, 0, stats{}, err
			}
			if n >= 0 && pushed < 0 {
				pushed = n
			}
		}
		if pushed < 0 {
			pushed = 0
		}

	case model.OpGet:
		lo.Fields, lo.Gas = o.Field, sch.Get

	case model.OpInvoke:
		cl, err := sc.Callable(o.Callable)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		fn, err := e.callable(cl)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		f := &e.funcs[fn]
		lo.Fn, lo.Gas = fn, sch.Invoke
		st.gas = f.Gas
		st.at(h + int(f.Stack))
		st.nest(int(f.Frames))
		pushed = int(f.Returns)

	case model.OpCreateSig:
		cl, err := sc.Callable(o.Callable)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		fn, err := e.callable(cl)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		lo.Fn = fn
		lo.Gas = sch.CreateSig + sch.CreateSigPerCapture*uint64(len(o.Refs))

	case model.OpInvokeSig:
		p, err := sc.Perm(o.Perm)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		if p.Type == nil || p.Perm != capability.Call {
			return Op{}, 0, stats{}, errs.Newf(errs.Capability, "InvokeSig needs Call on a signature, have %s", p)
		}
		sig, err := e.chk.Signature(p.Type)
		if err != nil {
			return Op{}, 0, stats{}, err
		}
		// Closure bodies are charged as they run; only the call frame itself
		// is known here.
		lo.Gas = sch.InvokeSig
		st.at(h + len(o.Refs))
		st.nest(1)
		pushed = len(sig.Returns)

	case model.OpSysInvoke, model.OpTypedSysInvoke:
		var (
			ent *externals.Entry
			ok  bool
		)
		if o.Op == model.OpSysInvoke {
			ent, ok = e.reg.Untyped(o.ID)
		} else {
			ent, ok = e.reg.Typed(o.ID)
		}
		if !ok {
			return Op{}, 0, stats{}, errs.Newf(errs.Integrity, "unknown system call %d", o.ID)
		}
		lo.ID, lo.Gas = o.ID, ent.Gas

	case model.OpSpecialLit:
		lo.Bytes, lo.Gas = o.Bytes, sch.Lit
	case model.OpData:
		lo.Bytes = o.Bytes
		lo.Gas = sch.Data + sch.DataPerWord*Words(len(o.Bytes))

	default:
		if !o.Op.IsArithmetic() && !o.Op.IsComparison() && o.Op != model.OpToData && o.Op != model.OpFromData {
			return Op{}, 0, stats{}, errs.Newf(errs.Parse, "unknown opcode %s", o.Op)
		}
		lo.Gas, lo.Unit = sch.arith(o.Op, o.Kind)
	}
	st.gas += lo.Gas
	return lo, pushed, st, nil
}

// results returns the number of values b leaves behind, or -1 if it always
// rolls back.
func results(b *model.Block) (int, error) {
	t := b.Terminator()
	if t == nil {
		return 0, errs.New(errs.Parse, "empty block")
	}
	if t.Op == model.OpRollback {
		return -1, nil
	}
	return len(t.Refs), nil
}

func (e *emitter) dataType(sc *linker.Scope, r model.PermRef) (*linker.Type, error) {
	p, err := sc.Perm(r)
	if err != nil {
		return nil, err
	}
	if p.Type == nil {
		return nil, errs.Newf(errs.Capability, "permission %s is not on a type", p)
	}
	return p.Type, nil
}

func (e *emitter) unpackFields(sc *linker.Scope, r model.PermRef) (int, error) {
	if r == model.NoPerm {
		return 0, nil
	}
	t, err := e.dataType(sc, r)
	if err != nil {
		return 0, err
	}
	fs, err := e.chk.Fields(t, 0)
	if err != nil {
		return 0, err
	}
	return len(fs), nil
}

func (e *emitter) switchFields(sc *linker.Scope, r model.PermRef) ([]uint8, error) {
	if r == model.NoPerm {
		return []uint8{0, 0}, nil
	}
	t, err := e.dataType(sc, r)
	if err != nil {
		return nil, err
	}
	dc, err := e.chk.Ctors(t)
	if err != nil {
		return nil, err
	}
	counts := make([]uint8, len(dc.Ctors))
	for i, fs := range dc.Ctors {
		counts[i] = uint8(len(fs))
	}
	return counts, nil
}

func refs(rs []model.ValueRef) []uint16 {
	if len(rs) == 0 {
		return nil
	}
	out := make([]uint16, len(rs))
	for i, r := range rs {
		out[i] = uint16(r)
	}
	return out
}

// ---------------------------------------------------------------------------
// Entry parameters
// ---------------------------------------------------------------------------

func (e *emitter) param(t *linker.Type, consume bool) (Param, error) {
	if t.IsOpen() {
		return Param{}, errs.Newf(errs.Capability, "entry type %s is not concrete", t)
	}
	caps, err := e.chk.Caps(t, nil)
	if err != nil {
		return Param{}, err
	}
	sch, err := e.schema(t)
	if err != nil {
		return Param{}, err
	}
	return Param{TypeHash: t.Hash(), Caps: caps, Schema: sch, Consume: consume}, nil
}

// schema describes the runtime shape of concrete type t.
func (e *emitter) schema(t *linker.Type) (*value.Schema, error) {
	switch t.Kind {
	case model.TypeLit:
		switch {
		case t.Lit.IsInt():
			return &value.Schema{Kind: value.SchemaInt, Int: t.Lit.ValueKind()}, nil
		case t.Lit == model.LitData:
			return &value.Schema{Kind: value.SchemaData}, nil
		case t.Lit == model.LitBool:
			return &value.Schema{Kind: value.SchemaBool}, nil
		case t.Lit == model.LitUnit:
			return &value.Schema{Kind: value.SchemaUnit}, nil
		}
	case model.TypeSig:
		return &value.Schema{Kind: value.SchemaSig}, nil
	case model.TypeData:
		dc, err := e.chk.Ctors(t)
		if err != nil {
			return nil, err
		}
		sch := &value.Schema{Kind: value.SchemaADT, Ctors: make([][]*value.Schema, len(dc.Ctors))}
		for tag := range dc.Ctors {
			fs, err := e.chk.Fields(t, uint8(tag))
			if err != nil {
				return nil, err
			}
			for _, f := range fs {
				fsch, err := e.schema(f)
				if err != nil {
					return nil, err
				}
				sch.Ctors[tag] = append(sch.Ctors[tag], fsch)
			}
		}
		return sch, nil
	}
	return nil, errs.Newf(errs.Capability, "%s cannot cross a transaction boundary", t)
}
