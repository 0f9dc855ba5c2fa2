package model

import (
	"slices"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/value"
)

// ---------------------------------------------------------------------------
// Module builder
// ---------------------------------------------------------------------------

// Builder assembles a module or transaction programmatically.
type Builder struct {
	m Module
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Import adds h to the import list (once) and returns its ModuleRef.
func (b *Builder) Import(h hash.Hash) ModuleRef {
	if i := slices.Index(b.m.Imports, h); i >= 0 {
		return ModuleRef(i + 1)
	}
	b.m.Imports = append(b.m.Imports, h)
	return ModuleRef(len(b.m.Imports))
}

// Meta sets the metadata hash.
func (b *Builder) Meta(h hash.Hash) *Builder {
	b.m.Meta = &h
	return b
}

// DeclareErrors sets the number of errors the module declares.
func (b *Builder) DeclareErrors(n uint8) *Builder {
	b.m.Errors = n
	return b
}

// Data appends a data component and returns its offset.
func (b *Builder) Data(c DataComponent) uint8 {
	c.Header.Kind = KindData
	b.m.Data = append(b.m.Data, c)
	return uint8(len(b.m.Data) - 1)
}

// Sig appends a signature component and returns its offset.
func (b *Builder) Sig(c SigComponent) uint8 {
	c.Header.Kind = KindSig
	b.m.Sigs = append(b.m.Sigs, c)
	return uint8(len(b.m.Sigs) - 1)
}

// Func appends a function component and returns its offset.
func (b *Builder) Func(c FunctionComponent) uint8 {
	c.Header.Kind = KindFunction
	b.m.Funcs = append(b.m.Funcs, c)
	return uint8(len(b.m.Funcs) - 1)
}

// Impl appends an implement component and returns its offset.
func (b *Builder) Impl(c ImplComponent) uint8 {
	c.Header.Kind = KindImplement
	b.m.Impls = append(b.m.Impls, c)
	return uint8(len(b.m.Impls) - 1)
}

// Module returns the assembled module.
func (b *Builder) Module() *Module {
	m := b.m
	return &m
}

// Transaction wraps f with the builder's imports.
func (b *Builder) Transaction(f FunctionComponent) *Transaction {
	f.Header.Kind = KindFunction
	return &Transaction{Imports: slices.Clone(b.m.Imports), Func: f}
}

// ---------------------------------------------------------------------------
// Header tables
//
// The helpers below append to the header's import tables and return the new
// index. Structurally equal entries are reused so tables stay minimal.
// ---------------------------------------------------------------------------

func (h *Header) addType(t TypeEntry) TypeRef {
	for i, have := range h.Imports.Types {
		if have.Kind == t.Kind && have.Index == t.Index && have.Module == t.Module &&
			have.Offset == t.Offset && have.Inner == t.Inner && have.Lit == t.Lit &&
			slices.Equal(have.Args, t.Args) {
			return TypeRef(i)
		}
	}
	h.Imports.Types = append(h.Imports.Types, t)
	return TypeRef(len(h.Imports.Types) - 1)
}

// AddGeneric declares a generic parameter and returns the type row that
// refers to it.
func (h *Header) AddGeneric(g Generic) TypeRef {
	h.Generics = append(h.Generics, g)
	return h.GenericType(uint8(len(h.Generics) - 1))
}

// GenericType references generic parameter i.
func (h *Header) GenericType(i uint8) TypeRef {
	return h.addType(TypeEntry{Kind: TypeGeneric, Index: i})
}

// LitType references a built-in type.
func (h *Header) LitType(k LitKind) TypeRef {
	return h.addType(TypeEntry{Kind: TypeLit, Lit: k})
}

// DataType references a data component applied to args.
func (h *Header) DataType(mod ModuleRef, off uint8, args ...TypeRef) TypeRef {
	return h.addType(TypeEntry{Kind: TypeData, Module: mod, Offset: off, Args: args})
}

// SigType references a signature component applied to args.
func (h *Header) SigType(mod ModuleRef, off uint8, args ...TypeRef) TypeRef {
	return h.addType(TypeEntry{Kind: TypeSig, Module: mod, Offset: off, Args: args})
}

// ProjectionType references the projection of inner.
func (h *Header) ProjectionType(inner TypeRef) TypeRef {
	return h.addType(TypeEntry{Kind: TypeProjection, Inner: inner})
}

// VirtualType references a phantom-only virtual type.
func (h *Header) VirtualType(id uint8) TypeRef {
	return h.addType(TypeEntry{Kind: TypeVirtual, Index: id})
}

func (h *Header) addCallable(c CallableEntry) CallableRef {
	for i, have := range h.Imports.Callables {
		if have.Kind == c.Kind && have.Module == c.Module && have.Offset == c.Offset && slices.Equal(have.Args, c.Args) {
			return CallableRef(i)
		}
	}
	h.Imports.Callables = append(h.Imports.Callables, c)
	return CallableRef(len(h.Imports.Callables) - 1)
}

// Function references a function component applied to args.
func (h *Header) Function(mod ModuleRef, off uint8, args ...TypeRef) CallableRef {
	return h.addCallable(CallableEntry{Kind: CallFunction, Module: mod, Offset: off, Args: args})
}

// Implement references an implement component applied to args.
func (h *Header) Implement(mod ModuleRef, off uint8, args ...TypeRef) CallableRef {
	return h.addCallable(CallableEntry{Kind: CallImplement, Module: mod, Offset: off, Args: args})
}

func (h *Header) addPerm(p PermEntry) PermRef {
	if i := slices.Index(h.Imports.Perms, p); i >= 0 {
		return PermRef(i)
	}
	h.Imports.Perms = append(h.Imports.Perms, p)
	return PermRef(len(h.Imports.Perms) - 1)
}

// TypePerm references permission p on type row t.
func (h *Header) TypePerm(p capability.Perm, t TypeRef) PermRef {
	return h.addPerm(PermEntry{Perm: p, Target: PermOnType, Ref: uint8(t)})
}

// CallPerm references the Call permission on callable row c.
func (h *Header) CallPerm(c CallableRef) PermRef {
	return h.addPerm(PermEntry{Perm: capability.Call, Target: PermOnCallable, Ref: uint8(c)})
}

// ErrorType references error off of module mod.
func (h *Header) ErrorType(mod ModuleRef, off uint8) ErrorRef {
	e := ErrorEntry{Module: mod, Offset: off}
	if i := slices.Index(h.Imports.Errors, e); i >= 0 {
		return ErrorRef(i)
	}
	h.Imports.Errors = append(h.Imports.Errors, e)
	return ErrorRef(len(h.Imports.Errors) - 1)
}

// ---------------------------------------------------------------------------
// Operation constructors
// ---------------------------------------------------------------------------

// NewBlock builds a block from ops.
func NewBlock(ops ...OpCode) Block { return Block{Ops: ops} }

func Let(ops ...OpCode) OpCode { return OpCode{Op: OpLet, Body: NewBlock(ops...)} }
func Id(v ValueRef) OpCode     { return OpCode{Op: OpId, Value: v} }
func Void() OpCode             { return OpCode{Op: OpVoid} }
func Return(refs ...ValueRef) OpCode {
	return OpCode{Op: OpReturn, Refs: refs}
}
func Rollback(e ErrorRef) OpCode { return OpCode{Op: OpRollback, Error: e} }

// Try runs body and falls back to the first catch whose error matches.
func Try(body Block, catches ...Catch) OpCode {
	return OpCode{Op: OpTry, Body: body, Catches: catches}
}

// On builds a Catch.
func On(e ErrorRef, ops ...OpCode) Catch { return Catch{Error: e, Body: NewBlock(ops...)} }

func Pack(perm PermRef, tag uint8, refs ...ValueRef) OpCode {
	return OpCode{Op: OpPack, Perm: perm, Tag: tag, Refs: refs}
}

func Unpack(perm PermRef, v ValueRef, mode FetchMode) OpCode {
	return OpCode{Op: OpUnpack, Perm: perm, Value: v, Mode: mode}
}

func Switch(perm PermRef, v ValueRef, mode FetchMode, branches ...Block) OpCode {
	return OpCode{Op: OpSwitch, Perm: perm, Value: v, Mode: mode, Branches: branches}
}

func Get(perm PermRef, v ValueRef, field uint8) OpCode {
	return OpCode{Op: OpGet, Perm: perm, Value: v, Field: field}
}

func Invoke(c CallableRef, refs ...ValueRef) OpCode {
	return OpCode{Op: OpInvoke, Callable: c, Refs: refs}
}

func CreateSig(c CallableRef, refs ...ValueRef) OpCode {
	return OpCode{Op: OpCreateSig, Callable: c, Refs: refs}
}

func InvokeSig(perm PermRef, v ValueRef, refs ...ValueRef) OpCode {
	return OpCode{Op: OpInvokeSig, Perm: perm, Value: v, Refs: refs}
}

func SysInvoke(id uint8, refs ...ValueRef) OpCode {
	return OpCode{Op: OpSysInvoke, ID: id, Refs: refs}
}

func TypedSysInvoke(id uint8, k value.Kind, refs ...ValueRef) OpCode {
	return OpCode{Op: OpTypedSysInvoke, ID: id, Kind: k, Refs: refs}
}

// Lit pushes the integer v.
func Lit(v value.Value) OpCode {
	return OpCode{Op: OpSpecialLit, Kind: v.Kind, Bytes: value.IntBytes(v)}
}

// DataLit pushes a copy of b.
func DataLit(b []byte) OpCode { return OpCode{Op: OpData, Bytes: b} }

// Binary builds a two-operand arithmetic or comparison op.
func Binary(op Op, k value.Kind, a, b ValueRef) OpCode {
	return OpCode{Op: op, Kind: k, Value: a, Other: b}
}

// Unary builds Not, ToData or FromData.
func Unary(op Op, k value.Kind, a ValueRef) OpCode {
	return OpCode{Op: op, Kind: k, Value: a}
}
