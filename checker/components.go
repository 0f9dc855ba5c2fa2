package checker

import (
	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/model"
)

// ---------------------------------------------------------------------------
// Modules and transactions
// ---------------------------------------------------------------------------

// ValidateModule validates every component of m, whose hash is h, in
// declaration order. The module is visible to the session while it is being
// validated.
func (c *Checker) ValidateModule(h hash.Hash, m *model.Module) error {
	c.self = h
	c.checked = [4]int{}
	c.s.Pending(h, m)
	defer c.s.Done(h)

	if err := c.imports(m.Imports); err != nil {
		log.Debugf("module %s rejected: %s", h.Short(), err)
		return err
	}
	steps := []struct {
		kind  model.ComponentKind
		count int
		check func(uint8) error
	}{
		{model.KindData, len(m.Data), c.validateData},
		{model.KindSig, len(m.Sigs), c.validateSig},
		{model.KindFunction, len(m.Funcs), c.validateFunction},
		{model.KindImplement, len(m.Impls), c.validateImpl},
	}
	for _, step := range steps {
		for i := 0; i < step.count; i++ {
			if err := step.check(uint8(i)); err != nil {
				log.Debugf("module %s: %s %d rejected: %s", h.Short(), step.kind, i, err)
				return err
			}
			c.checked[step.kind]++
		}
	}
	log.Debugf("module %s valid", h.Short())
	return nil
}

// ValidateTransaction validates a transaction's function. Transactions are
// entry points and cannot declare generics.
func (c *Checker) ValidateTransaction(tx *model.Transaction) error {
	c.self = hash.Zero
	f := &tx.Func
	if len(f.Header.Generics) > 0 {
		return errs.New(errs.Capability, "transactions cannot declare generics")
	}
	if err := c.imports(tx.Imports); err != nil {
		return err
	}
	if err := c.header(&f.Header, capability.NoPerms); err != nil {
		return err
	}
	sc, err := c.s.Resolve(hash.Zero, tx.Imports, &f.Header)
	if err != nil {
		return err
	}
	return c.function(sc, f)
}

// imports loads every listed module, including ones no component refers
// to, so a missing import is rejected and open dependencies are validated.
func (c *Checker) imports(hs []hash.Hash) error {
	for _, h := range hs {
		if _, err := c.s.Module(h); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) validateData(off uint8) error {
	d, err := c.s.Data(c.self, off)
	if err != nil {
		return err
	}
	h := &d.Header
	if err := c.header(h, capability.DataPerms); err != nil {
		return err
	}
	if h.Caps.Contains(capability.Primitive) {
		if !c.system {
			return errs.New(errs.Capability, "Primitive data types require system mode")
		}
		for _, g := range h.Generics {
			if !g.Phantom {
				return errs.New(errs.Capability, "Primitive data types cannot have value generics")
			}
		}
	}
	sc, err := c.s.Scope(c.self, model.KindData, off)
	if err != nil {
		return err
	}
	e := newEnv(sc, linker.GenericCaps(h))
	if err := c.checkScope(e); err != nil {
		return err
	}
	all := make([]capability.Caps, len(h.Generics))
	for i := range all {
		all[i] = capability.AllCaps
	}
	for tag, fields := range d.Ctors {
		for i, r := range fields {
			t, err := sc.Type(r)
			if err != nil {
				return err
			}
			if err := c.storedType(e, t); err != nil {
				return err
			}
			caps, err := c.Caps(t, all)
			if err != nil {
				return err
			}
			if !h.Caps.IsSubsetOf(caps) {
				return errs.Newf(errs.Capability, "field %d of constructor %d has %s, type declares %s", i, tag, caps, h.Caps)
			}
		}
	}
	return nil
}

func (c *Checker) validateSig(off uint8) error {
	sg, err := c.s.Sig(c.self, off)
	if err != nil {
		return err
	}
	h := &sg.Header
	if err := c.header(h, capability.SigPerms); err != nil {
		return err
	}
	if h.Caps.Contains(capability.Persist) || h.Caps.Contains(capability.Primitive) {
		return errs.Newf(errs.Capability, "signatures cannot declare %s", h.Caps)
	}
	sc, err := c.s.Scope(c.self, model.KindSig, off)
	if err != nil {
		return err
	}
	e := newEnv(sc, linker.GenericCaps(h))
	if err := c.checkScope(e); err != nil {
		return err
	}
	if _, err := c.params(e, sg.Params); err != nil {
		return err
	}
	_, err = c.returns(e, sg.Returns)
	return err
}

func (c *Checker) validateFunction(off uint8) error {
	f, err := c.s.Function(c.self, off)
	if err != nil {
		return err
	}
	if err := c.header(&f.Header, capability.CallablePerms); err != nil {
		return err
	}
	sc, err := c.s.Scope(c.self, model.KindFunction, off)
	if err != nil {
		return err
	}
	return c.function(sc, f)
}

func (c *Checker) function(sc *linker.Scope, f *model.FunctionComponent) error {
	e := newEnv(sc, linker.GenericCaps(sc.Header))
	if err := c.checkScope(e); err != nil {
		return err
	}
	params, err := c.params(e, f.Params)
	if err != nil {
		return err
	}
	returns, err := c.returns(e, f.Returns)
	if err != nil {
		return err
	}
	return c.body(e, params, returns, f.Header.Mode, f.Body)
}

func (c *Checker) validateImpl(off uint8) error {
	im, err := c.s.Impl(c.self, off)
	if err != nil {
		return err
	}
	if err := c.header(&im.Header, capability.CallablePerms); err != nil {
		return err
	}
	sc, err := c.s.Scope(c.self, model.KindImplement, off)
	if err != nil {
		return err
	}
	e := newEnv(sc, linker.GenericCaps(&im.Header))
	if err := c.checkScope(e); err != nil {
		return err
	}
	st, err := sc.Type(im.Sig)
	if err != nil {
		return err
	}
	sig, err := c.Signature(st)
	if err != nil {
		return err
	}
	if st.Module != c.self && !sig.Header.Public.Contains(capability.Implement) {
		return errs.Newf(errs.Capability, "%s may not be implemented here", st)
	}
	sigCaps, err := c.capsIn(e)(st)
	if err != nil {
		return err
	}
	captures, err := sc.TypeList(im.Captures)
	if err != nil {
		return err
	}
	params := make([]Param, 0, len(captures)+len(sig.Params))
	for _, t := range captures {
		if err := c.storedType(e, t); err != nil {
			return err
		}
		caps, err := c.capsIn(e)(t)
		if err != nil {
			return err
		}
		if !sigCaps.IsSubsetOf(caps) {
			return errs.Newf(errs.Capability, "capture %s has %s, signature %s requires %s", t, caps, st, sigCaps)
		}
		params = append(params, Param{Type: t, Consume: true})
	}
	params = append(params, sig.Params...)
	return c.body(e, params, sig.Returns, sig.Header.Mode, im.Body)
}

// ---------------------------------------------------------------------------
// Signatures of callables
// ---------------------------------------------------------------------------

// Param is a resolved parameter.
type Param struct {
	Type    *linker.Type
	Consume bool
}

// Signature is the resolved calling convention of a function, an implement
// or a signature type, with type arguments substituted.
type Signature struct {
	Header  *model.Header
	Params  []Param
	Returns []*linker.Type
}

func (c *Checker) params(e *env, ps []model.Param) ([]Param, error) {
	out := make([]Param, len(ps))
	for i, p := range ps {
		t, err := e.sc.Type(p.Type)
		if err != nil {
			return nil, err
		}
		if err := c.valueType(e, t); err != nil {
			return nil, err
		}
		out[i] = Param{Type: t, Consume: p.Consume}
	}
	return out, nil
}

func (c *Checker) returns(e *env, rs []model.TypeRef) ([]*linker.Type, error) {
	ts, err := e.sc.TypeList(rs)
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		if err := c.storedType(e, t); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

func (c *Checker) resolveSig(sc *linker.Scope, ps []model.Param, rs []model.TypeRef, args []*linker.Type) (*Signature, error) {
	sig := &Signature{Header: sc.Header, Params: make([]Param, len(ps))}
	for i, p := range ps {
		t, err := sc.Type(p.Type)
		if err != nil {
			return nil, err
		}
		sig.Params[i] = Param{Type: c.in.Subst(t, args), Consume: p.Consume}
	}
	ts, err := sc.TypeList(rs)
	if err != nil {
		return nil, err
	}
	sig.Returns = c.in.SubstAll(ts, args)
	return sig, nil
}

// Signature resolves the calling convention of signature type t.
func (c *Checker) Signature(t *linker.Type) (*Signature, error) {
	if t.Kind != model.TypeSig {
		return nil, errs.Newf(errs.Capability, "%s is not a signature", t)
	}
	sg, err := c.s.Sig(t.Module, t.Offset)
	if err != nil {
		return nil, err
	}
	sc, err := c.s.Scope(t.Module, model.KindSig, t.Offset)
	if err != nil {
		return nil, err
	}
	return c.resolveSig(sc, sg.Params, sg.Returns, t.Args)
}

// Function resolves the calling convention of a function callable.
func (c *Checker) Function(cl *linker.Callable) (*Signature, error) {
	if cl.Kind != model.CallFunction {
		return nil, errs.Newf(errs.Capability, "%s is not a function", cl)
	}
	f, err := c.s.Function(cl.Module, cl.Offset)
	if err != nil {
		return nil, err
	}
	sc, err := c.s.Scope(cl.Module, model.KindFunction, cl.Offset)
	if err != nil {
		return nil, err
	}
	return c.resolveSig(sc, f.Params, f.Returns, cl.Args)
}

// Implement resolves the captures and the implemented signature type of an
// implement callable.
func (c *Checker) Implement(cl *linker.Callable) (captures []*linker.Type, sig *linker.Type, err error) {
	if cl.Kind != model.CallImplement {
		return nil, nil, errs.Newf(errs.Capability, "%s is not an implement", cl)
	}
	im, err := c.s.Impl(cl.Module, cl.Offset)
	if err != nil {
		return nil, nil, err
	}
	sc, err := c.s.Scope(cl.Module, model.KindImplement, cl.Offset)
	if err != nil {
		return nil, nil, err
	}
	st, err := sc.Type(im.Sig)
	if err != nil {
		return nil, nil, err
	}
	ts, err := sc.TypeList(im.Captures)
	if err != nil {
		return nil, nil, err
	}
	return c.in.SubstAll(ts, cl.Args), c.in.Subst(st, cl.Args), nil
}

// Fields returns the field types of constructor tag of data type t.
func (c *Checker) Fields(t *linker.Type, tag uint8) ([]*linker.Type, error) {
	d, err := c.Ctors(t)
	if err != nil {
		return nil, err
	}
	if int(tag) >= len(d.Ctors) {
		return nil, errs.Newf(errs.Capability, "constructor %d of %s out of range (%d)", tag, t, len(d.Ctors))
	}
	sc, err := c.s.Scope(t.Module, model.KindData, t.Offset)
	if err != nil {
		return nil, err
	}
	ts, err := sc.TypeList(d.Ctors[tag])
	if err != nil {
		return nil, err
	}
	return c.in.SubstAll(ts, t.Args), nil
}

// Ctors returns the data component behind t.
func (c *Checker) Ctors(t *linker.Type) (*model.DataComponent, error) {
	if t.Kind != model.TypeData {
		return nil, errs.Newf(errs.Capability, "%s is not a data type", t)
	}
	return c.s.Data(t.Module, t.Offset)
}
