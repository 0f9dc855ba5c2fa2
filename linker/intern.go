package linker

import (
	"encoding/binary"
	"sync"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/model"
)

// ---------------------------------------------------------------------------
// Interner: append-only dedup tables
// ---------------------------------------------------------------------------

// Interner gives every structurally distinct type, callable and permission
// a single handle. Tables only grow. Lookups take a read lock; inserts
// re-check under the write lock so racing resolvers agree on one handle.
type Interner struct {
	mu        sync.RWMutex
	types     map[string]*Type
	callables map[string]*Callable
	perms     map[string]*Permission
}

// NewInterner creates empty tables.
func NewInterner() *Interner {
	return &Interner{
		types:     make(map[string]*Type),
		callables: make(map[string]*Callable),
		perms:     make(map[string]*Permission),
	}
}

// Len returns the table sizes.
func (in *Interner) Len() (types, callables, perms int) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.types), len(in.callables), len(in.perms)
}

// Same compares two interned types by handle. It panics when handed a type
// that this interner did not produce, since structural comparison would
// silently hide the bug.
func (in *Interner) Same(a, b *Type) bool {
	if a.owner != in || b.owner != in {
		panic("linker: comparing types from a foreign interner")
	}
	return a == b
}

// SameCallable compares two interned callables by handle.
func (in *Interner) SameCallable(a, b *Callable) bool {
	if a.owner != in || b.owner != in {
		panic("linker: comparing callables from a foreign interner")
	}
	return a == b
}

// keyBuf builds structural keys. Children contribute their own keys with a
// length prefix, so a key fully describes the type tree.
type keyBuf []byte

func (k keyBuf) u8(v uint8) keyBuf       { return append(k, v) }
func (k keyBuf) hash(h hash.Hash) keyBuf { return append(k, h[:]...) }
func (k keyBuf) child(key string) keyBuf {
	k = binary.LittleEndian.AppendUint32(k, uint32(len(key)))
	return append(k, key...)
}

func (k keyBuf) types(ts []*Type) keyBuf {
	k = k.u8(uint8(len(ts)))
	for _, t := range ts {
		k = k.child(t.key)
	}
	return k
}

func (in *Interner) internType(t *Type, key keyBuf) *Type {
	s := string(key)
	in.mu.RLock()
	have, ok := in.types[s]
	in.mu.RUnlock()
	if ok {
		return have
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if have, ok := in.types[s]; ok {
		return have
	}
	t.key = s
	t.hash = hash.Sum(hash.DomainType, key)
	t.owner = in
	t.open = t.Kind == model.TypeGeneric
	for _, a := range t.Args {
		t.open = t.open || a.open
	}
	if t.Inner != nil {
		t.open = t.open || t.Inner.open
	}
	in.types[s] = t
	return t
}

// Generic returns the type of generic parameter i of the current context.
func (in *Interner) Generic(i uint8) *Type {
	return in.internType(&Type{Kind: model.TypeGeneric, Index: i},
		keyBuf(nil).u8(uint8(model.TypeGeneric)).u8(i))
}

// Data returns the application of a data component to args.
func (in *Interner) Data(mod hash.Hash, off uint8, args []*Type) *Type {
	return in.applied(model.TypeData, mod, off, args)
}

// Sig returns the application of a signature component to args.
func (in *Interner) Sig(mod hash.Hash, off uint8, args []*Type) *Type {
	return in.applied(model.TypeSig, mod, off, args)
}

func (in *Interner) applied(kind model.TypeKind, mod hash.Hash, off uint8, args []*Type) *Type {
	key := keyBuf(nil).u8(uint8(kind)).hash(mod).u8(off).types(args)
	return in.internType(&Type{Kind: kind, Module: mod, Offset: off, Args: cloneTypes(args)}, key)
}

// Projection returns the borrowed view of inner. Projections do not nest.
func (in *Interner) Projection(inner *Type) *Type {
	if inner.Kind == model.TypeProjection {
		return inner
	}
	key := keyBuf(nil).u8(uint8(model.TypeProjection)).child(inner.key)
	return in.internType(&Type{Kind: model.TypeProjection, Inner: inner}, key)
}

// Virtual returns virtual type id declared by module mod.
func (in *Interner) Virtual(mod hash.Hash, id uint8) *Type {
	key := keyBuf(nil).u8(uint8(model.TypeVirtual)).hash(mod).u8(id)
	return in.internType(&Type{Kind: model.TypeVirtual, Module: mod, Index: id}, key)
}

// Lit returns the built-in type k.
func (in *Interner) Lit(k model.LitKind) *Type {
	key := keyBuf(nil).u8(uint8(model.TypeLit)).u8(uint8(k))
	return in.internType(&Type{Kind: model.TypeLit, Lit: k}, key)
}

// Callable returns the interned application of a function or implement.
func (in *Interner) Callable(kind model.CallableKind, mod hash.Hash, off uint8, args []*Type) *Callable {
	s := string(keyBuf(nil).u8(uint8(kind)).hash(mod).u8(off).types(args))
	in.mu.RLock()
	have, ok := in.callables[s]
	in.mu.RUnlock()
	if ok {
		return have
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if have, ok := in.callables[s]; ok {
		return have
	}
	c := &Callable{Kind: kind, Module: mod, Offset: off, Args: cloneTypes(args), key: s, owner: in}
	in.callables[s] = c
	return c
}

// Permission returns the interned grant of p on a type or a callable.
// Exactly one of t and c is non-nil.
func (in *Interner) Permission(p capability.Perm, t *Type, c *Callable) *Permission {
	key := keyBuf(nil).u8(uint8(p))
	if t != nil {
		key = key.u8(0).child(t.key)
	} else {
		key = key.u8(1).child(c.key)
	}
	s := string(key)
	in.mu.RLock()
	have, ok := in.perms[s]
	in.mu.RUnlock()
	if ok {
		return have
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if have, ok := in.perms[s]; ok {
		return have
	}
	perm := &Permission{Perm: p, Type: t, Callable: c, key: s, owner: in}
	in.perms[s] = perm
	return perm
}

// Subst replaces generic parameters of t by args. Generics beyond args are
// kept, which lets callers substitute a prefix.
func (in *Interner) Subst(t *Type, args []*Type) *Type {
	if !t.open {
		return t
	}
	switch t.Kind {
	case model.TypeGeneric:
		if int(t.Index) < len(args) {
			return args[t.Index]
		}
		return t
	case model.TypeData, model.TypeSig:
		return in.applied(t.Kind, t.Module, t.Offset, in.SubstAll(t.Args, args))
	case model.TypeProjection:
		return in.Projection(in.Subst(t.Inner, args))
	}
	return t
}

// SubstAll maps Subst over ts.
func (in *Interner) SubstAll(ts []*Type, args []*Type) []*Type {
	if len(ts) == 0 {
		return nil
	}
	out := make([]*Type, len(ts))
	for i, t := range ts {
		out[i] = in.Subst(t, args)
	}
	return out
}

// SubstCallable substitutes the type arguments of c.
func (in *Interner) SubstCallable(c *Callable, args []*Type) *Callable {
	return in.Callable(c.Kind, c.Module, c.Offset, in.SubstAll(c.Args, args))
}

func cloneTypes(ts []*Type) []*Type {
	if len(ts) == 0 {
		return nil
	}
	return append([]*Type(nil), ts...)
}
