// Package externals is the registry of system calls: primitive operations
// implemented by the host rather than in bytecode.
//
// The table is declared once and keyed by (system module hash, ordinal).
// SysInvoke addresses the untyped calls of hash.SystemModule and
// TypedSysInvoke the kind-parametric integer calls of hash.IntModule.
package externals

import (
	"fmt"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/value"
)

// Shape is the type of a system-call operand or result.
type Shape uint8

const (
	// ShapeKind is the integer kind the call is instantiated with.
	ShapeKind Shape = iota
	ShapeData
	ShapeBool
)

func (s Shape) String() string {
	switch s {
	case ShapeKind:
		return "K"
	case ShapeData:
		return "Data"
	case ShapeBool:
		return "Bool"
	}
	return fmt.Sprintf("Shape(%d)", uint8(s))
}

// Func implements a call. k is the instantiated kind for typed calls.
// Results that carry data are allocated from a.
type Func func(a *value.Alloc, k value.Kind, args []value.Value) (value.Value, error)

// Entry describes one system call.
type Entry struct {
	Name    string
	Typed   bool
	Params  []Shape
	Returns Shape
	Mode    capability.Mode
	// Gas is the static cost charged before the call; Dynamic adds a cost
	// depending on the actual operands.
	Gas     uint64
	Dynamic func(k value.Kind, args []value.Value) uint64
	Fn      Func
}

// Cost returns the total gas for a call with args.
func (e *Entry) Cost(k value.Kind, args []value.Value) uint64 {
	if e.Dynamic == nil {
		return e.Gas
	}
	return e.Gas + e.Dynamic(k, args)
}

// Key addresses an entry.
type Key struct {
	Module hash.Hash
	ID     uint8
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Module.Short(), k.ID) }

// Registry maps keys to entries. It is immutable after construction.
type Registry struct {
	entries map[Key]*Entry
}

// Lookup returns the entry for (module, id).
func (r *Registry) Lookup(module hash.Hash, id uint8) (*Entry, bool) {
	e, ok := r.entries[Key{Module: module, ID: id}]
	return e, ok
}

// Untyped returns the SysInvoke entry id.
func (r *Registry) Untyped(id uint8) (*Entry, bool) { return r.Lookup(hash.SystemModule, id) }

// Typed returns the TypedSysInvoke entry id.
func (r *Registry) Typed(id uint8) (*Entry, bool) { return r.Lookup(hash.IntModule, id) }

// Len returns the number of registered calls.
func (r *Registry) Len() int { return len(r.entries) }

// Resolve instantiates an entry's shapes with kind k, returning the
// parameter and result kinds. Bool results are reported as value.ADT.
func (e *Entry) Resolve(k value.Kind) (params []value.Kind, result value.Kind) {
	of := func(s Shape) value.Kind {
		switch s {
		case ShapeKind:
			return k
		case ShapeData:
			return value.Data
		}
		return value.ADT
	}
	params = make([]value.Kind, len(e.Params))
	for i, s := range e.Params {
		params[i] = of(s)
	}
	return params, of(e.Returns)
}

var defaultRegistry = newRegistry()

// Default returns the process-wide registry built from the system table.
func Default() *Registry { return defaultRegistry }

func newRegistry() *Registry {
	r := &Registry{entries: make(map[Key]*Entry, len(untypedTable)+len(typedTable))}
	for i := range untypedTable {
		r.entries[Key{Module: hash.SystemModule, ID: uint8(i)}] = &untypedTable[i]
	}
	for i := range typedTable {
		r.entries[Key{Module: hash.IntModule, ID: uint8(i)}] = &typedTable[i]
	}
	return r
}
