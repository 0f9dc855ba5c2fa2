package linker

import (
	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/value"
)

// Scope is the resolved import table of one component header.
type Scope struct {
	// Self is the declaring module, or hash.Zero for a transaction.
	Self      hash.Hash
	Imports   []hash.Hash
	Header    *model.Header
	Types     []*Type
	Callables []*Callable
	Perms     []*Permission
	Errors    []value.ErrorID
}

// IsTransaction reports whether the scope belongs to a transaction.
func (sc *Scope) IsTransaction() bool { return sc.Self.IsZero() }

// Type returns type row r.
func (sc *Scope) Type(r model.TypeRef) (*Type, error) {
	if int(r) >= len(sc.Types) {
		return nil, errs.Newf(errs.Integrity, "type ref %d out of range (%d)", r, len(sc.Types))
	}
	return sc.Types[r], nil
}

// TypeList resolves several rows.
func (sc *Scope) TypeList(rs []model.TypeRef) ([]*Type, error) {
	if len(rs) == 0 {
		return nil, nil
	}
	ts := make([]*Type, len(rs))
	for i, r := range rs {
		t, err := sc.Type(r)
		if err != nil {
			return nil, err
		}
		ts[i] = t
	}
	return ts, nil
}

// Callable returns callable row r.
func (sc *Scope) Callable(r model.CallableRef) (*Callable, error) {
	if int(r) >= len(sc.Callables) {
		return nil, errs.Newf(errs.Integrity, "callable ref %d out of range (%d)", r, len(sc.Callables))
	}
	return sc.Callables[r], nil
}

// Perm returns permission row r.
func (sc *Scope) Perm(r model.PermRef) (*Permission, error) {
	if int(r) >= len(sc.Perms) {
		return nil, errs.Newf(errs.Integrity, "permission ref %d out of range (%d)", r, len(sc.Perms))
	}
	return sc.Perms[r], nil
}

// Error returns error row r.
func (sc *Scope) Error(r model.ErrorRef) (value.ErrorID, error) {
	if int(r) >= len(sc.Errors) {
		return value.ErrorID{}, errs.Newf(errs.Integrity, "error ref %d out of range (%d)", r, len(sc.Errors))
	}
	return sc.Errors[r], nil
}

// ModuleHash maps a module reference to a hash.
func (sc *Scope) ModuleHash(ref model.ModuleRef) (hash.Hash, error) {
	if ref == model.SelfModule {
		if sc.IsTransaction() {
			return hash.Zero, errs.New(errs.Integrity, "transactions have no self module")
		}
		return sc.Self, nil
	}
	if int(ref) > len(sc.Imports) {
		return hash.Zero, errs.Newf(errs.Integrity, "module ref %d out of range (%d imports)", ref, len(sc.Imports))
	}
	return sc.Imports[ref-1], nil
}

// Resolve builds the scope of header h declared by module self (hash.Zero
// for transactions) with the given imports. Every referenced module is
// loaded and every index bounds-checked.
func (s *Session) Resolve(self hash.Hash, imports []hash.Hash, h *model.Header) (*Scope, error) {
	in := s.l.Types
	sc := &Scope{Self: self, Imports: imports, Header: h}
	im := &h.Imports

	sc.Types = make([]*Type, len(im.Types))
	for i, e := range im.Types {
		args := make([]*Type, 0, len(e.Args))
		for _, r := range e.Refs() {
			if int(r) >= i {
				return nil, errs.Newf(errs.Integrity, "type row %d refers forward to %d", i, r)
			}
		}
		for _, r := range e.Args {
			args = append(args, sc.Types[r])
		}
		switch e.Kind {
		case model.TypeGeneric:
			if int(e.Index) >= len(h.Generics) {
				return nil, errs.Newf(errs.Integrity, "generic %d out of range (%d)", e.Index, len(h.Generics))
			}
			sc.Types[i] = in.Generic(e.Index)
		case model.TypeData, model.TypeSig:
			mod, err := sc.ModuleHash(e.Module)
			if err != nil {
				return nil, err
			}
			kind := model.KindData
			if e.Kind == model.TypeSig {
				kind = model.KindSig
			}
			if _, err := s.Header(mod, kind, e.Offset); err != nil {
				return nil, err
			}
			if e.Kind == model.TypeData {
				sc.Types[i] = in.Data(mod, e.Offset, args)
			} else {
				sc.Types[i] = in.Sig(mod, e.Offset, args)
			}
		case model.TypeProjection:
			sc.Types[i] = in.Projection(sc.Types[e.Inner])
		case model.TypeVirtual:
			sc.Types[i] = in.Virtual(self, e.Index)
		case model.TypeLit:
			sc.Types[i] = in.Lit(e.Lit)
		default:
			return nil, errs.Newf(errs.Integrity, "unknown type kind %d", e.Kind)
		}
	}

	sc.Callables = make([]*Callable, len(im.Callables))
	for i, e := range im.Callables {
		mod, err := sc.ModuleHash(e.Module)
		if err != nil {
			return nil, err
		}
		kind := model.KindFunction
		if e.Kind == model.CallImplement {
			kind = model.KindImplement
		}
		if _, err := s.Header(mod, kind, e.Offset); err != nil {
			return nil, err
		}
		args, err := sc.TypeList(e.Args)
		if err != nil {
			return nil, err
		}
		sc.Callables[i] = in.Callable(e.Kind, mod, e.Offset, args)
	}

	sc.Perms = make([]*Permission, len(im.Perms))
	for i, e := range im.Perms {
		switch e.Target {
		case model.PermOnType:
			t, err := sc.Type(model.TypeRef(e.Ref))
			if err != nil {
				return nil, err
			}
			sc.Perms[i] = in.Permission(e.Perm, t, nil)
		case model.PermOnCallable:
			c, err := sc.Callable(model.CallableRef(e.Ref))
			if err != nil {
				return nil, err
			}
			sc.Perms[i] = in.Permission(e.Perm, nil, c)
		default:
			return nil, errs.Newf(errs.Integrity, "unknown permission target %d", e.Target)
		}
	}

	sc.Errors = make([]value.ErrorID, len(im.Errors))
	for i, e := range im.Errors {
		mod, err := sc.ModuleHash(e.Module)
		if err != nil {
			return nil, err
		}
		n, err := s.errorCount(mod)
		if err != nil {
			return nil, err
		}
		if int(e.Offset) >= n {
			return nil, errs.Newf(errs.Integrity, "error %d of %s out of range (%d)", e.Offset, mod.Short(), n)
		}
		sc.Errors[i] = value.ErrorID{Module: mod, Offset: e.Offset}
	}
	return sc, nil
}

func (s *Session) errorCount(mod hash.Hash) (int, error) {
	if m, ok := s.pending[mod]; ok {
		return int(m.Errors), nil
	}
	link, err := s.Module(mod)
	if err != nil {
		return 0, err
	}
	return link.Errors(), nil
}

// Header returns the header of component (kind, off) of module mod.
func (s *Session) Header(mod hash.Hash, kind model.ComponentKind, off uint8) (*model.Header, error) {
	m, err := s.Lookup(mod)
	if err != nil {
		return nil, err
	}
	n := 0
	switch kind {
	case model.KindData:
		if n = len(m.Data); int(off) < n {
			return &m.Data[off].Header, nil
		}
	case model.KindSig:
		if n = len(m.Sigs); int(off) < n {
			return &m.Sigs[off].Header, nil
		}
	case model.KindFunction:
		if n = len(m.Funcs); int(off) < n {
			return &m.Funcs[off].Header, nil
		}
	case model.KindImplement:
		if n = len(m.Impls); int(off) < n {
			return &m.Impls[off].Header, nil
		}
	}
	return nil, errs.Newf(errs.Integrity, "%s %d of %s out of range (%d)", kind, off, mod.Short(), n)
}

// Data returns data component off of module mod.
func (s *Session) Data(mod hash.Hash, off uint8) (*model.DataComponent, error) {
	m, err := s.Lookup(mod)
	if err != nil {
		return nil, err
	}
	if int(off) >= len(m.Data) {
		return nil, errs.Newf(errs.Integrity, "data %d of %s out of range", off, mod.Short())
	}
	return &m.Data[off], nil
}

// Sig returns signature component off of module mod.
func (s *Session) Sig(mod hash.Hash, off uint8) (*model.SigComponent, error) {
	m, err := s.Lookup(mod)
	if err != nil {
		return nil, err
	}
	if int(off) >= len(m.Sigs) {
		return nil, errs.Newf(errs.Integrity, "signature %d of %s out of range", off, mod.Short())
	}
	return &m.Sigs[off], nil
}

// Function returns function component off of module mod.
func (s *Session) Function(mod hash.Hash, off uint8) (*model.FunctionComponent, error) {
	m, err := s.Lookup(mod)
	if err != nil {
		return nil, err
	}
	if int(off) >= len(m.Funcs) {
		return nil, errs.Newf(errs.Integrity, "function %d of %s out of range", off, mod.Short())
	}
	return &m.Funcs[off], nil
}

// Impl returns implement component off of module mod.
func (s *Session) Impl(mod hash.Hash, off uint8) (*model.ImplComponent, error) {
	m, err := s.Lookup(mod)
	if err != nil {
		return nil, err
	}
	if int(off) >= len(m.Impls) {
		return nil, errs.Newf(errs.Integrity, "implement %d of %s out of range", off, mod.Short())
	}
	return &m.Impls[off], nil
}

type scopeKey struct {
	mod  hash.Hash
	kind model.ComponentKind
	off  uint8
}

// Scope returns the resolved scope of component (kind, off) of module mod.
// Scopes of deployed modules are cached on the linker.
func (s *Session) Scope(mod hash.Hash, kind model.ComponentKind, off uint8) (*Scope, error) {
	key := scopeKey{mod, kind, off}
	_, pending := s.pending[mod]
	if !pending {
		if sc, ok := s.l.scopes.Load(key); ok {
			return sc.(*Scope), nil
		}
	}
	h, err := s.Header(mod, kind, off)
	if err != nil {
		return nil, err
	}
	m, err := s.Lookup(mod)
	if err != nil {
		return nil, err
	}
	sc, err := s.Resolve(mod, m.Imports, h)
	if err != nil {
		return nil, err
	}
	if !pending {
		actual, _ := s.l.scopes.LoadOrStore(key, sc)
		return actual.(*Scope), nil
	}
	return sc, nil
}

// GenericCaps returns the declared capabilities of the header's generics.
func GenericCaps(h *model.Header) []capability.Caps {
	cs := make([]capability.Caps, len(h.Generics))
	for i, g := range h.Generics {
		cs[i] = g.Caps
	}
	return cs
}
