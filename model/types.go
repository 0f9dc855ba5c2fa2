package model

import (
	"fmt"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/value"
)

// ---------------------------------------------------------------------------
// Reference indices
// ---------------------------------------------------------------------------

// ModuleRef selects a module relative to the declaring component: 0 is the
// declaring module itself and i >= 1 is import i-1. Transactions have no
// self module, so 0 is invalid there.
type ModuleRef uint8

// SelfModule is the ModuleRef of the declaring module.
const SelfModule ModuleRef = 0

// TypeRef indexes the type table of a component header.
type TypeRef uint8

// CallableRef indexes the callable table of a component header.
type CallableRef uint8

// PermRef indexes the permission table of a component header. NoPerm marks
// operations on built-in literal types that need no permission.
type PermRef uint8

// NoPerm is the PermRef used for Bool and Unit, which have no declaring
// component.
const NoPerm PermRef = 0xFF

// ErrorRef indexes the error table of a component header.
type ErrorRef uint8

// ValueRef addresses the operand stack relative to its top: the absolute
// slot is top-1-ref.
type ValueRef uint16

// ---------------------------------------------------------------------------
// Type table
// ---------------------------------------------------------------------------

// TypeKind is the variant of a type table entry.
type TypeKind uint8

const (
	TypeGeneric TypeKind = iota
	TypeData
	TypeSig
	TypeProjection
	TypeVirtual
	TypeLit
	numTypeKinds
)

var typeKindNames = [...]string{"Generic", "Data", "Sig", "Projection", "Virtual", "Lit"}

func (k TypeKind) String() string {
	if k < numTypeKinds {
		return typeKindNames[k]
	}
	return fmt.Sprintf("TypeKind(%d)", uint8(k))
}

// LitKind names a built-in type. The integer kinds share their ordinals
// with value.Kind.
type LitKind uint8

const (
	LitI8   = LitKind(value.I8)
	LitI16  = LitKind(value.I16)
	LitI32  = LitKind(value.I32)
	LitI64  = LitKind(value.I64)
	LitI128 = LitKind(value.I128)
	LitU8   = LitKind(value.U8)
	LitU16  = LitKind(value.U16)
	LitU32  = LitKind(value.U32)
	LitU64  = LitKind(value.U64)
	LitU128 = LitKind(value.U128)
	LitData = LitKind(value.Data)
	LitBool = LitData + 1
	LitUnit = LitData + 2

	NumLitKinds = LitData + 3
)

// LitOf returns the literal kind of an integer value kind.
func LitOf(k value.Kind) LitKind { return LitKind(k) }

// IsInt reports whether k is one of the integer literal kinds.
func (k LitKind) IsInt() bool { return k <= LitU128 }

// ValueKind returns the runtime kind of values of this literal type. Bool
// and Unit are ADTs.
func (k LitKind) ValueKind() value.Kind {
	switch {
	case k <= LitData:
		return value.Kind(k)
	default:
		return value.ADT
	}
}

func (k LitKind) String() string {
	switch {
	case k <= LitData:
		return value.Kind(k).String()
	case k == LitBool:
		return "Bool"
	case k == LitUnit:
		return "Unit"
	}
	return fmt.Sprintf("LitKind(%d)", uint8(k))
}

// TypeEntry is one row of a header's type table. Entries may only refer to
// earlier rows.
type TypeEntry struct {
	Kind TypeKind
	// Index is the generic parameter for TypeGeneric and the identity of a
	// TypeVirtual.
	Index uint8
	// Module and Offset locate the component of TypeData and TypeSig.
	Module ModuleRef
	Offset uint8
	// Args are the applied generic arguments of TypeData and TypeSig.
	Args []TypeRef
	// Inner is the projected type of TypeProjection.
	Inner TypeRef
	// Lit is the built-in type of TypeLit.
	Lit LitKind
}

// Refs returns the type rows this entry depends on.
func (t TypeEntry) Refs() []TypeRef {
	switch t.Kind {
	case TypeData, TypeSig:
		return t.Args
	case TypeProjection:
		return []TypeRef{t.Inner}
	}
	return nil
}

func (t TypeEntry) String() string {
	switch t.Kind {
	case TypeGeneric:
		return fmt.Sprintf("$%d", t.Index)
	case TypeData, TypeSig:
		return fmt.Sprintf("%s(m%d.%d)%v", t.Kind, t.Module, t.Offset, t.Args)
	case TypeProjection:
		return fmt.Sprintf("Projection(#%d)", t.Inner)
	case TypeVirtual:
		return fmt.Sprintf("Virtual(%d)", t.Index)
	case TypeLit:
		return t.Lit.String()
	}
	return t.Kind.String()
}

func (e *encoder) typeEntry(t TypeEntry) {
	e.u8(uint8(t.Kind))
	switch t.Kind {
	case TypeGeneric, TypeVirtual:
		e.u8(t.Index)
	case TypeData, TypeSig:
		e.u8(uint8(t.Module))
		e.u8(t.Offset)
		e.typeRefs(t.Args)
	case TypeProjection:
		e.u8(uint8(t.Inner))
	case TypeLit:
		e.u8(uint8(t.Lit))
	default:
		e.failf("unknown type kind %d", t.Kind)
	}
}

func (d *decoder) typeEntry(row int) TypeEntry {
	t := TypeEntry{Kind: TypeKind(d.enum("type kind", uint8(numTypeKinds)))}
	switch t.Kind {
	case TypeGeneric, TypeVirtual:
		t.Index = d.u8()
	case TypeData, TypeSig:
		t.Module = ModuleRef(d.u8())
		t.Offset = d.u8()
		t.Args = d.typeRefs()
	case TypeProjection:
		t.Inner = TypeRef(d.u8())
	case TypeLit:
		t.Lit = LitKind(d.enum("literal kind", uint8(NumLitKinds)))
	}
	for _, r := range t.Refs() {
		if int(r) >= row {
			d.failf("type entry %d refers to entry %d", row, r)
		}
	}
	return t
}

// ---------------------------------------------------------------------------
// Callables, permissions and errors
// ---------------------------------------------------------------------------

// CallableKind distinguishes functions from signature implementations.
type CallableKind uint8

const (
	CallFunction CallableKind = iota
	CallImplement
	numCallableKinds
)

func (k CallableKind) String() string {
	if k == CallImplement {
		return "Implement"
	}
	return "Function"
}

// CallableEntry references a function or implement component applied to
// type arguments.
type CallableEntry struct {
	Kind   CallableKind
	Module ModuleRef
	Offset uint8
	Args   []TypeRef
}

// PermTarget says what a permission entry is about.
type PermTarget uint8

const (
	PermOnType PermTarget = iota
	PermOnCallable
	numPermTargets
)

// PermEntry grants use of a single permission on a type row or a callable
// row of the same header.
type PermEntry struct {
	Perm   capability.Perm
	Target PermTarget
	Ref    uint8
}

// ErrorEntry references a declared error of a module.
type ErrorEntry struct {
	Module ModuleRef
	Offset uint8
}

// Imports is the per-component import table. All references used by a
// component body go through it.
type Imports struct {
	Types     []TypeEntry
	Callables []CallableEntry
	Perms     []PermEntry
	Errors    []ErrorEntry
}

func (e *encoder) imports(im *Imports) {
	e.len8(len(im.Types))
	for _, t := range im.Types {
		e.typeEntry(t)
	}
	e.len8(len(im.Callables))
	for _, c := range im.Callables {
		e.u8(uint8(c.Kind))
		e.u8(uint8(c.Module))
		e.u8(c.Offset)
		e.typeRefs(c.Args)
	}
	e.len8(len(im.Perms))
	for _, p := range im.Perms {
		e.u8(uint8(capability.PermsOf(p.Perm)))
		e.u8(uint8(p.Target))
		e.u8(p.Ref)
	}
	e.len8(len(im.Errors))
	for _, er := range im.Errors {
		e.u8(uint8(er.Module))
		e.u8(er.Offset)
	}
}

func (d *decoder) imports() Imports {
	var im Imports
	if n := d.len8(); n > 0 && d.err == nil {
		im.Types = make([]TypeEntry, n)
		for i := range im.Types {
			im.Types[i] = d.typeEntry(i)
		}
	}
	if n := d.len8(); n > 0 && d.err == nil {
		im.Callables = make([]CallableEntry, n)
		for i := range im.Callables {
			c := &im.Callables[i]
			c.Kind = CallableKind(d.enum("callable kind", uint8(numCallableKinds)))
			c.Module = ModuleRef(d.u8())
			c.Offset = d.u8()
			c.Args = d.typeRefs()
		}
	}
	if n := d.len8(); n > 0 && d.err == nil {
		im.Perms = make([]PermEntry, n)
		for i := range im.Perms {
			p := &im.Perms[i]
			mask := capability.Perms(d.u8())
			perm, ok := mask.Single()
			if !ok && d.err == nil {
				d.failf("permission entry %d: %#x is not a single permission", i, uint8(mask))
			}
			p.Perm = perm
			p.Target = PermTarget(d.enum("permission target", uint8(numPermTargets)))
			p.Ref = d.u8()
		}
	}
	if n := d.len8(); n > 0 && d.err == nil {
		im.Errors = make([]ErrorEntry, n)
		for i := range im.Errors {
			im.Errors[i].Module = ModuleRef(d.u8())
			im.Errors[i].Offset = d.u8()
		}
	}
	return im
}

// ---------------------------------------------------------------------------
// Header
// ---------------------------------------------------------------------------

// ComponentKind identifies the component a header belongs to.
type ComponentKind uint8

const (
	KindData ComponentKind = iota
	KindSig
	KindFunction
	KindImplement
	numComponentKinds
)

var componentKindNames = [...]string{"Data", "Sig", "Function", "Implement"}

func (k ComponentKind) String() string {
	if k < numComponentKinds {
		return componentKindNames[k]
	}
	return fmt.Sprintf("ComponentKind(%d)", uint8(k))
}

// Generic is a declared generic parameter.
type Generic struct {
	Phantom   bool
	Protected bool
	Caps      capability.Caps
}

const (
	genericPhantom   = 1 << 0
	genericProtected = 1 << 1
)

// Header is shared by every component.
type Header struct {
	Kind     ComponentKind
	Public   capability.Perms
	Caps     capability.Caps
	Mode     capability.Mode
	Generics []Generic
	Imports  Imports
}

// Phantoms returns the phantom flag of every generic parameter.
func (h *Header) Phantoms() []bool {
	ps := make([]bool, len(h.Generics))
	for i, g := range h.Generics {
		ps[i] = g.Phantom
	}
	return ps
}

// header writes the kind of the slot being encoded; h.Kind is ignored.
func (e *encoder) header(kind ComponentKind, h *Header) {
	e.u8(uint8(kind))
	e.u8(uint8(h.Public))
	e.u8(uint8(h.Caps))
	e.u8(uint8(h.Mode))
	e.len8(len(h.Generics))
	for _, g := range h.Generics {
		var flags uint8
		if g.Phantom {
			flags |= genericPhantom
		}
		if g.Protected {
			flags |= genericProtected
		}
		e.u8(flags)
		e.u8(uint8(g.Caps))
	}
	e.imports(&h.Imports)
}

func (d *decoder) header(want ComponentKind) Header {
	var h Header
	h.Kind = ComponentKind(d.enum("component kind", uint8(numComponentKinds)))
	if d.err == nil && h.Kind != want {
		d.failf("expected %s component, found %s", want, h.Kind)
	}
	h.Public = capability.Perms(d.u8())
	h.Caps = capability.Caps(d.u8())
	h.Mode = capability.Mode(d.enum("mode", uint8(capability.NumModes)))
	if d.err == nil && (!h.Public.Valid() || !h.Caps.Valid()) {
		d.failf("unknown permission or capability bits")
	}
	if n := d.len8(); n > 0 && d.err == nil {
		h.Generics = make([]Generic, n)
		for i := range h.Generics {
			flags := d.u8()
			if flags&^(genericPhantom|genericProtected) != 0 && d.err == nil {
				d.failf("generic %d: unknown flags %#x", i, flags)
			}
			caps := capability.Caps(d.u8())
			if !caps.Valid() && d.err == nil {
				d.failf("generic %d: unknown capability bits", i)
			}
			h.Generics[i] = Generic{
				Phantom:   flags&genericPhantom != 0,
				Protected: flags&genericProtected != 0,
				Caps:      caps,
			}
		}
	}
	h.Imports = d.imports()
	return h
}
