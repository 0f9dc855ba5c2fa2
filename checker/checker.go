// Package checker validates modules and transactions before they are
// stored: capabilities of applied types, permissions, execution modes and
// the linear use of values in every body.
//
// Components are validated in declaration order. A component may only
// reference components of its own module that were declared before it,
// which also rules out recursion.
package checker

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/externals"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/model"
)

var log = commonlog.GetLogger("sanskrit.checker")

// Checker validates the components of one module or transaction.
type Checker struct {
	s      *linker.Session
	in     *linker.Interner
	reg    *externals.Registry
	system bool

	// self is the module under validation, hash.Zero for transactions.
	self hash.Hash
	// checked counts the validated components of self per kind.
	checked [4]int
}

// New creates a checker over a linker session. System mode permits
// declaring Primitive data types.
func New(s *linker.Session, reg *externals.Registry, system bool) *Checker {
	if reg == nil {
		reg = externals.Default()
	}
	return &Checker{s: s, in: s.Linker().Types, reg: reg, system: system}
}

// env is the typing context of one component.
type env struct {
	sc   *linker.Scope
	gen  []capability.Caps
	caps map[*linker.Type]capability.Caps
}

func newEnv(sc *linker.Scope, gen []capability.Caps) *env {
	return &env{sc: sc, gen: gen, caps: make(map[*linker.Type]capability.Caps)}
}

func (c *Checker) capsIn(e *env) CapsFunc {
	return func(t *linker.Type) (capability.Caps, error) {
		if caps, ok := e.caps[t]; ok {
			return caps, nil
		}
		caps, err := c.Caps(t, e.gen)
		if err != nil {
			return 0, err
		}
		e.caps[t] = caps
		return caps, nil
	}
}

func (c *Checker) has(e *env, t *linker.Type, cap capability.Cap) (bool, error) {
	caps, err := c.capsIn(e)(t)
	return caps.Contains(cap), err
}

func componentOf(t *linker.Type) model.ComponentKind {
	if t.Kind == model.TypeSig {
		return model.KindSig
	}
	return model.KindData
}

// ---------------------------------------------------------------------------
// Capabilities
// ---------------------------------------------------------------------------

// projectionCaps are kept by a projection from its inner type.
var projectionCaps = capability.CapsOf(capability.Value, capability.Unbound)

// Caps computes the capabilities of t where generic parameter i carries
// gen[i].
func (c *Checker) Caps(t *linker.Type, gen []capability.Caps) (capability.Caps, error) {
	switch t.Kind {
	case model.TypeGeneric:
		if int(t.Index) >= len(gen) {
			return 0, errs.Newf(errs.Integrity, "generic %d out of range (%d)", t.Index, len(gen))
		}
		return gen[t.Index], nil
	case model.TypeLit:
		return capability.AllCaps, nil
	case model.TypeVirtual:
		return capability.NoCaps, nil
	case model.TypeProjection:
		inner, err := c.Caps(t.Inner, gen)
		if err != nil {
			return 0, err
		}
		return capability.CapsOf(capability.Drop, capability.Copy).Union(inner.Intersect(projectionCaps)), nil
	case model.TypeData, model.TypeSig:
		h, err := c.s.Header(t.Module, componentOf(t), t.Offset)
		if err != nil {
			return 0, err
		}
		phantoms := h.Phantoms()
		args := make([]capability.Caps, len(t.Args))
		for i, a := range t.Args {
			if i < len(phantoms) && phantoms[i] {
				continue
			}
			if args[i], err = c.Caps(a, gen); err != nil {
				return 0, err
			}
		}
		_, inherited, _ := capability.ApplyTypes(h.Caps, phantoms, args)
		return inherited, nil
	}
	return 0, errs.Newf(errs.Integrity, "unknown type kind %s", t.Kind)
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

func (c *Checker) forward(kind model.ComponentKind, mod hash.Hash, off uint8) error {
	if c.self.IsZero() || mod != c.self {
		return nil
	}
	if int(off) >= c.checked[kind] {
		return errs.Newf(errs.Integrity, "forward reference to %s %d", kind, off)
	}
	return nil
}

// apply checks the type arguments given to a component with header h
// declared by module mod.
func (c *Checker) apply(e *env, h *model.Header, mod hash.Hash, args []*linker.Type) error {
	if len(args) != len(h.Generics) {
		return errs.Newf(errs.Capability, "%d type arguments for %d generics", len(args), len(h.Generics))
	}
	for i, a := range args {
		g := h.Generics[i]
		if g.Protected && mod != c.self {
			return errs.Newf(errs.Capability, "generic %d of %s is protected", i, mod.Short())
		}
		if a.Kind == model.TypeProjection {
			return errs.Newf(errs.Capability, "projection %s used as type argument", a)
		}
		if g.Phantom {
			continue
		}
		if err := c.valueType(e, a); err != nil {
			return err
		}
		caps, err := c.capsIn(e)(a)
		if err != nil {
			return err
		}
		if !g.Caps.IsSubsetOf(caps) {
			return errs.Newf(errs.Capability, "argument %s has %s, generic %d requires %s", a, caps, i, g.Caps)
		}
	}
	return nil
}

// valueType rejects types that have no values: virtual types and phantom
// generics.
func (c *Checker) valueType(e *env, t *linker.Type) error {
	switch t.Kind {
	case model.TypeVirtual:
		return errs.Newf(errs.Capability, "virtual type %s used as a value", t)
	case model.TypeGeneric:
		if g := e.sc.Header.Generics; int(t.Index) < len(g) && g[t.Index].Phantom {
			return errs.Newf(errs.Capability, "phantom generic %s used as a value", t)
		}
	case model.TypeProjection:
		return c.valueType(e, t.Inner)
	}
	return nil
}

// storedType is a value type that may be captured by data or closures.
func (c *Checker) storedType(e *env, t *linker.Type) error {
	if t.Kind == model.TypeProjection {
		return errs.Newf(errs.Capability, "projection %s cannot be stored", t)
	}
	return c.valueType(e, t)
}

// checkScope validates every row of a component's import tables.
func (c *Checker) checkScope(e *env) error {
	for _, t := range e.sc.Types {
		switch t.Kind {
		case model.TypeData, model.TypeSig:
			kind := componentOf(t)
			if err := c.forward(kind, t.Module, t.Offset); err != nil {
				return err
			}
			h, err := c.s.Header(t.Module, kind, t.Offset)
			if err != nil {
				return err
			}
			if err := c.apply(e, h, t.Module, t.Args); err != nil {
				return err
			}
		case model.TypeProjection:
			if err := c.valueType(e, t.Inner); err != nil {
				return err
			}
		}
	}
	for _, cl := range e.sc.Callables {
		kind := model.KindFunction
		if cl.Kind == model.CallImplement {
			kind = model.KindImplement
		}
		if err := c.forward(kind, cl.Module, cl.Offset); err != nil {
			return err
		}
		h, err := c.s.Header(cl.Module, kind, cl.Offset)
		if err != nil {
			return err
		}
		if cl.Module != c.self && !h.Public.Contains(capability.Call) {
			return errs.Newf(errs.Capability, "%s is not public", cl)
		}
		if err := c.apply(e, h, cl.Module, cl.Args); err != nil {
			return err
		}
	}
	for _, p := range e.sc.Perms {
		if p.Callable != nil {
			if p.Perm != capability.Call {
				return errs.Newf(errs.Capability, "permission %s", p)
			}
			continue
		}
		allowed := capability.DataPerms
		switch p.Type.Kind {
		case model.TypeData:
		case model.TypeSig:
			allowed = capability.SigPerms
		default:
			return errs.Newf(errs.Capability, "permission %s on a non-component type", p)
		}
		if !allowed.Contains(p.Perm) {
			return errs.Newf(errs.Capability, "permission %s is meaningless", p)
		}
		if p.Type.Module == c.self {
			continue
		}
		h, err := c.s.Header(p.Type.Module, componentOf(p.Type), p.Type.Offset)
		if err != nil {
			return err
		}
		if !h.Public.Contains(p.Perm) {
			return errs.Newf(errs.Capability, "%s is not granted publicly", p)
		}
	}
	return nil
}

func (c *Checker) header(h *model.Header, allowed capability.Perms) error {
	if !h.Public.Valid() || !h.Public.IsSubsetOf(allowed) {
		return errs.Newf(errs.Capability, "public permissions %s not allowed on %s", h.Public, h.Kind)
	}
	if h.Mode >= capability.NumModes {
		return errs.Newf(errs.Capability, "unknown mode %d", h.Mode)
	}
	if err := h.Caps.Validate(); err != nil {
		return err
	}
	for _, g := range h.Generics {
		if err := g.Caps.Validate(); err != nil {
			return err
		}
	}
	return nil
}
