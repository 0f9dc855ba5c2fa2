package checker

import (
	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/externals"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/value"
)

// code walks one body. st is replaced while branches are explored.
type code struct {
	*Checker
	e    *env
	st   *Stack
	mode capability.Mode
	// dead is set once every path of the current op fails, making the rest
	// of the block unreachable.
	dead bool
}

func (c *Checker) body(e *env, params []Param, returns []*linker.Type, mode capability.Mode, b model.Block) error {
	cc := &code{Checker: c, e: e, st: NewStack(c.capsIn(e)), mode: mode}
	for _, p := range params {
		if p.Consume {
			cc.st.Push(p.Type)
		} else {
			cc.st.PushBorrowed(p.Type, newSet())
		}
	}
	diverged, err := cc.block(b, 0, true)
	if err != nil || diverged {
		return err
	}
	if cc.st.Len() != len(returns) {
		return errs.Newf(errs.Capability, "body returns %d values, %d declared", cc.st.Len(), len(returns))
	}
	for i, t := range returns {
		if got := cc.st.Slot(i).Type; got != t {
			return errs.Newf(errs.Capability, "return %d is %s, declared %s", i, got, t)
		}
	}
	return nil
}

// block checks b with the slots from base on belonging to it. It reports
// whether every path through b fails.
func (cc *code) block(b model.Block, base int, frame bool) (bool, error) {
	for i := range b.Ops {
		o := &b.Ops[i]
		switch o.Op {
		case model.OpReturn:
			return false, cc.st.Exit(base, o.Refs, frame)
		case model.OpRollback:
			_, err := cc.e.sc.Error(o.Error)
			return true, err
		}
		if err := cc.op(o); err != nil {
			return false, err
		}
		if cc.dead {
			cc.dead = false
			return true, nil
		}
	}
	return false, errs.New(errs.Parse, "block without terminator")
}

func (cc *code) lit(k model.LitKind) *linker.Type { return cc.in.Lit(k) }

func (cc *code) slot(ref model.ValueRef) (int, *linker.Type, error) {
	i, err := cc.st.Abs(ref)
	if err != nil {
		return 0, nil, err
	}
	return i, cc.st.Slot(i).Type, nil
}

func mismatch(what string, got, want *linker.Type) error {
	return errs.Newf(errs.Capability, "%s is %s, expected %s", what, got, want)
}

func (cc *code) op(o *model.OpCode) error {
	switch o.Op {
	case model.OpLet:
		diverged, err := cc.block(o.Body, cc.st.Len(), false)
		cc.dead = diverged
		return err
	case model.OpId:
		return cc.id(o)
	case model.OpVoid:
		cc.st.Push(cc.lit(model.LitUnit))
		return nil
	case model.OpTry:
		return cc.try(o)
	case model.OpPack:
		return cc.pack(o)
	case model.OpUnpack:
		return cc.unpack(o)
	case model.OpSwitch:
		return cc.switchOp(o)
	case model.OpGet:
		return cc.get(o)
	case model.OpInvoke:
		return cc.invoke(o)
	case model.OpCreateSig:
		return cc.createSig(o)
	case model.OpInvokeSig:
		return cc.invokeSig(o)
	case model.OpSysInvoke:
		e, ok := cc.reg.Untyped(o.ID)
		if !ok {
			return errs.Newf(errs.Integrity, "unknown system call %d", o.ID)
		}
		return cc.sys(e, 0, o.Refs)
	case model.OpTypedSysInvoke:
		e, ok := cc.reg.Typed(o.ID)
		if !ok {
			return errs.Newf(errs.Integrity, "unknown typed system call %d", o.ID)
		}
		return cc.sys(e, o.Kind, o.Refs)
	case model.OpSpecialLit:
		cc.st.Push(cc.lit(model.LitOf(o.Kind)))
		return nil
	case model.OpData:
		cc.st.Push(cc.lit(model.LitData))
		return nil
	case model.OpToData, model.OpFromData:
		return cc.convert(o)
	}
	if o.Op.IsArithmetic() || o.Op.IsComparison() {
		return cc.arith(o)
	}
	return errs.Newf(errs.Parse, "unexpected opcode %s", o.Op)
}

// ---------------------------------------------------------------------------
// Structure
// ---------------------------------------------------------------------------

func (cc *code) id(o *model.OpCode) error {
	i, t, err := cc.slot(o.Value)
	if err != nil {
		return err
	}
	if err := cc.st.Live(i); err != nil {
		return err
	}
	if sl := cc.st.Slot(i); sl.Status == Borrowed && sl.Sources.Cardinality() > 0 {
		copyable, err := cc.has(cc.e, t, capability.Copy)
		if err != nil {
			return err
		}
		if !copyable {
			return errs.Newf(errs.Linearity, "cannot move borrowed slot %d", i)
		}
		cc.st.PushBorrowed(t, sl.Sources)
		return nil
	}
	if err := cc.st.Use(i, true); err != nil {
		return err
	}
	cc.st.Push(t)
	return nil
}

// merge folds the outcome of one path into the agreed stack.
func merge(agreed **Stack, st *Stack) error {
	if *agreed == nil {
		*agreed = st
		return nil
	}
	return (*agreed).Agrees(st)
}

func (cc *code) try(o *model.OpCode) error {
	pre := cc.st.Clone()
	base := pre.Len()
	var agreed *Stack

	cc.st.EnterTry()
	diverged, err := cc.block(o.Body, base, false)
	if err != nil {
		return err
	}
	if !diverged {
		cc.st.LeaveTry()
		agreed = cc.st
	}
	for _, h := range o.Catches {
		if _, err := cc.e.sc.Error(h.Error); err != nil {
			return err
		}
		cc.st = pre.Clone()
		cc.st.Push(cc.lit(model.LitData))
		diverged, err := cc.block(h.Body, base, false)
		if err != nil {
			return err
		}
		if diverged {
			continue
		}
		if err := merge(&agreed, cc.st); err != nil {
			return err
		}
	}
	if agreed == nil {
		cc.st, cc.dead = pre, true
		return nil
	}
	cc.st = agreed
	return nil
}

// ---------------------------------------------------------------------------
// Algebraic data
// ---------------------------------------------------------------------------

// dataPerm resolves a permission for fetching or building data.
func (cc *code) dataPerm(ref model.PermRef, want capability.Perm) (*linker.Type, error) {
	p, err := cc.e.sc.Perm(ref)
	if err != nil {
		return nil, err
	}
	if p.Perm != want || p.Type == nil || p.Type.Kind != model.TypeData {
		return nil, errs.Newf(errs.Capability, "operation needs %s on a data type, have %s", want, p)
	}
	return p.Type, nil
}

func fetchPerm(m model.FetchMode) capability.Perm {
	if m == model.FetchInspect {
		return capability.Inspect
	}
	return capability.Consume
}

// subject checks the fetched value i against data type d and uses it.
func (cc *code) subject(i int, t, d *linker.Type, mode model.FetchMode) error {
	switch {
	case t == d:
	case mode == model.FetchInspect && t.Kind == model.TypeProjection && t.Inner == d:
	default:
		return mismatch("fetched value", t, d)
	}
	return cc.st.Use(i, mode == model.FetchConsume)
}

// pushFields pushes the fields of a fetched value. Inspected fields are
// projections borrowing the subject, except primitive ones which are
// copied.
func (cc *code) pushFields(i int, fields []*linker.Type, mode model.FetchMode) error {
	for _, f := range fields {
		if mode == model.FetchConsume {
			cc.st.Push(f)
			continue
		}
		prim, err := cc.has(cc.e, f, capability.Primitive)
		if err != nil {
			return err
		}
		if prim {
			cc.st.Push(f)
			continue
		}
		if err := cc.st.Borrow(i, cc.in.Projection(f)); err != nil {
			return err
		}
	}
	return nil
}

func (cc *code) pack(o *model.OpCode) error {
	if o.Perm == model.NoPerm {
		if len(o.Refs) != 0 || o.Tag > 1 {
			return errs.Newf(errs.Capability, "Bool has no constructor %d with %d fields", o.Tag, len(o.Refs))
		}
		cc.st.Push(cc.lit(model.LitBool))
		return nil
	}
	d, err := cc.dataPerm(o.Perm, capability.Create)
	if err != nil {
		return err
	}
	fields, err := cc.Fields(d, o.Tag)
	if err != nil {
		return err
	}
	params := make([]Param, len(fields))
	for k, f := range fields {
		params[k] = Param{Type: f, Consume: true}
	}
	return cc.call(o.Refs, params, []*linker.Type{d})
}

func (cc *code) unpack(o *model.OpCode) error {
	i, t, err := cc.slot(o.Value)
	if err != nil {
		return err
	}
	if o.Perm == model.NoPerm {
		if !t.IsLit(model.LitUnit) {
			return mismatch("unpacked value", t, cc.lit(model.LitUnit))
		}
		return cc.st.Live(i)
	}
	d, err := cc.dataPerm(o.Perm, fetchPerm(o.Mode))
	if err != nil {
		return err
	}
	dc, err := cc.Ctors(d)
	if err != nil {
		return err
	}
	if len(dc.Ctors) != 1 {
		return errs.Newf(errs.Capability, "unpack of %s with %d constructors", d, len(dc.Ctors))
	}
	if err := cc.subject(i, t, d, o.Mode); err != nil {
		return err
	}
	fields, err := cc.Fields(d, 0)
	if err != nil {
		return err
	}
	return cc.pushFields(i, fields, o.Mode)
}

func (cc *code) switchOp(o *model.OpCode) error {
	i, t, err := cc.slot(o.Value)
	if err != nil {
		return err
	}
	var ctors [][]*linker.Type
	if o.Perm == model.NoPerm {
		if !t.IsLit(model.LitBool) {
			return mismatch("switched value", t, cc.lit(model.LitBool))
		}
		if err := cc.st.Live(i); err != nil {
			return err
		}
		ctors = [][]*linker.Type{nil, nil}
	} else {
		d, err := cc.dataPerm(o.Perm, fetchPerm(o.Mode))
		if err != nil {
			return err
		}
		dc, err := cc.Ctors(d)
		if err != nil {
			return err
		}
		if err := cc.subject(i, t, d, o.Mode); err != nil {
			return err
		}
		ctors = make([][]*linker.Type, len(dc.Ctors))
		for tag := range ctors {
			if ctors[tag], err = cc.Fields(d, uint8(tag)); err != nil {
				return err
			}
		}
	}
	if len(o.Branches) != len(ctors) {
		return errs.Newf(errs.Capability, "switch has %d branches for %d constructors", len(o.Branches), len(ctors))
	}

	pre := cc.st
	base := pre.Len()
	var agreed *Stack
	for tag, br := range o.Branches {
		cc.st = pre.Clone()
		if err := cc.pushFields(i, ctors[tag], o.Mode); err != nil {
			return err
		}
		diverged, err := cc.block(br, base, false)
		if err != nil {
			return err
		}
		if diverged {
			continue
		}
		if err := merge(&agreed, cc.st); err != nil {
			return err
		}
	}
	if agreed == nil {
		cc.st, cc.dead = pre, true
		return nil
	}
	cc.st = agreed
	return nil
}

func (cc *code) get(o *model.OpCode) error {
	i, t, err := cc.slot(o.Value)
	if err != nil {
		return err
	}
	d, err := cc.dataPerm(o.Perm, capability.Inspect)
	if err != nil {
		return err
	}
	dc, err := cc.Ctors(d)
	if err != nil {
		return err
	}
	if len(dc.Ctors) != 1 {
		return errs.Newf(errs.Capability, "get on %s with %d constructors", d, len(dc.Ctors))
	}
	if err := cc.subject(i, t, d, model.FetchInspect); err != nil {
		return err
	}
	fields, err := cc.Fields(d, 0)
	if err != nil {
		return err
	}
	if int(o.Field) >= len(fields) {
		return errs.Newf(errs.Capability, "field %d of %s out of range (%d)", o.Field, d, len(fields))
	}
	f := fields[o.Field]
	copyable, err := cc.has(cc.e, f, capability.Copy)
	if err != nil {
		return err
	}
	if !copyable {
		return errs.Newf(errs.Capability, "field %d of %s is %s which cannot be copied", o.Field, d, f)
	}
	cc.st.Push(f)
	return nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call checks refs against params, uses them and pushes the results.
func (cc *code) call(refs []model.ValueRef, params []Param, results []*linker.Type) error {
	if len(refs) != len(params) {
		return errs.Newf(errs.Capability, "%d arguments for %d parameters", len(refs), len(params))
	}
	idx := make([]int, len(refs))
	consume := make([]bool, len(refs))
	for k, ref := range refs {
		i, t, err := cc.slot(ref)
		if err != nil {
			return err
		}
		if t != params[k].Type {
			return mismatch("argument", t, params[k].Type)
		}
		idx[k], consume[k] = i, params[k].Consume
	}
	if err := cc.st.UseAll(idx, consume); err != nil {
		return err
	}
	for _, r := range results {
		cc.st.Push(r)
	}
	return nil
}

func (cc *code) checkMode(callee capability.Mode, what any) error {
	if !callee.Satisfies(cc.mode) {
		return errs.Newf(errs.Capability, "%v in mode %s cannot be used from %s", what, callee, cc.mode)
	}
	return nil
}

func (cc *code) invoke(o *model.OpCode) error {
	cl, err := cc.e.sc.Callable(o.Callable)
	if err != nil {
		return err
	}
	sig, err := cc.Function(cl)
	if err != nil {
		return err
	}
	if err := cc.checkMode(sig.Header.Mode, cl); err != nil {
		return err
	}
	return cc.call(o.Refs, sig.Params, sig.Returns)
}

func (cc *code) createSig(o *model.OpCode) error {
	cl, err := cc.e.sc.Callable(o.Callable)
	if err != nil {
		return err
	}
	captures, st, err := cc.Implement(cl)
	if err != nil {
		return err
	}
	params := make([]Param, len(captures))
	for k, t := range captures {
		params[k] = Param{Type: t, Consume: true}
	}
	return cc.call(o.Refs, params, []*linker.Type{st})
}

func (cc *code) invokeSig(o *model.OpCode) error {
	p, err := cc.e.sc.Perm(o.Perm)
	if err != nil {
		return err
	}
	if p.Perm != capability.Call || p.Type == nil {
		return errs.Newf(errs.Capability, "InvokeSig needs Call on a signature, have %s", p)
	}
	sig, err := cc.Signature(p.Type)
	if err != nil {
		return err
	}
	if err := cc.checkMode(sig.Header.Mode, p.Type); err != nil {
		return err
	}
	refs := append([]model.ValueRef{o.Value}, o.Refs...)
	params := append([]Param{{Type: p.Type, Consume: true}}, sig.Params...)
	return cc.call(refs, params, sig.Returns)
}

func (cc *code) shapeType(s externals.Shape, k value.Kind) *linker.Type {
	switch s {
	case externals.ShapeData:
		return cc.lit(model.LitData)
	case externals.ShapeBool:
		return cc.lit(model.LitBool)
	}
	return cc.lit(model.LitOf(k))
}

func (cc *code) sys(e *externals.Entry, k value.Kind, refs []model.ValueRef) error {
	if err := cc.checkMode(e.Mode, e.Name); err != nil {
		return err
	}
	params := make([]Param, len(e.Params))
	for i, s := range e.Params {
		params[i] = Param{Type: cc.shapeType(s, k)}
	}
	return cc.call(refs, params, []*linker.Type{cc.shapeType(e.Returns, k)})
}

// ---------------------------------------------------------------------------
// Primitive operations
// ---------------------------------------------------------------------------

func (cc *code) operand(ref model.ValueRef, want *linker.Type) error {
	i, t, err := cc.slot(ref)
	if err != nil {
		return err
	}
	if t != want {
		return mismatch("operand", t, want)
	}
	return cc.st.Live(i)
}

func (cc *code) arith(o *model.OpCode) error {
	if o.Kind == value.Data && o.Op != model.OpEq {
		return errs.Newf(errs.Capability, "%s does not accept Data operands", o.Op)
	}
	t := cc.lit(model.LitOf(o.Kind))
	if err := cc.operand(o.Value, t); err != nil {
		return err
	}
	if o.Op != model.OpNot {
		if err := cc.operand(o.Other, t); err != nil {
			return err
		}
	}
	if o.Op.IsComparison() {
		t = cc.lit(model.LitBool)
	}
	cc.st.Push(t)
	return nil
}

func (cc *code) convert(o *model.OpCode) error {
	from, to := cc.lit(model.LitOf(o.Kind)), cc.lit(model.LitData)
	if o.Op == model.OpFromData {
		from, to = to, from
	}
	if err := cc.operand(o.Value, from); err != nil {
		return err
	}
	cc.st.Push(to)
	return nil
}
