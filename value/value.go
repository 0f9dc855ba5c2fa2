// Package value defines the runtime values manipulated by the interpreter
// and their wire encoding.
//
// A Value is a small tagged union. Integers of every width live inline;
// data payloads and ADT field vectors are slices into arena memory owned by
// the current section, so a Value is only meaningful until that arena is
// released or reset.
package value

import (
	"bytes"
	"fmt"
	"strings"
)

// Kind is the primitive category of a value.
type Kind uint8

const (
	I8 Kind = iota
	I16
	I32
	I64
	I128
	U8
	U16
	U32
	U64
	U128
	Data
	ADT
	// Sig values are closures over a descriptor-local function. They exist
	// only in memory and have no wire form.
	Sig
	NumKinds
)

var kindNames = [...]string{"I8", "I16", "I32", "I64", "I128", "U8", "U16", "U32", "U64", "U128", "Data", "ADT", "Sig"}

func (k Kind) String() string {
	if k < NumKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsInt reports whether k is one of the fixed-width integer kinds.
func (k Kind) IsInt() bool { return k <= U128 }

// Signed reports whether k is a signed integer kind.
func (k Kind) Signed() bool { return k <= I128 }

// Width returns the byte width of an integer kind, or 0.
func (k Kind) Width() int {
	switch k {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32:
		return 4
	case I64, U64:
		return 8
	case I128, U128:
		return 16
	}
	return 0
}

// Bits returns the bit width of an integer kind.
func (k Kind) Bits() int { return k.Width() * 8 }

// Value is a runtime value.
type Value struct {
	Kind   Kind
	Tag    uint8
	Fn     uint32
	lo, hi uint64
	Data   []byte
	Fields []Value
}

// Bool tags.
const (
	FalseTag uint8 = 0
	TrueTag  uint8 = 1
)

// Bool returns the ADT encoding of a boolean.
func Bool(b bool) Value {
	if b {
		return Value{Kind: ADT, Tag: TrueTag}
	}
	return Value{Kind: ADT, Tag: FalseTag}
}

// Unit returns the single unit value.
func Unit() Value { return Value{Kind: ADT} }

// Lo returns the low 64 bits of an integer.
func (v Value) Lo() uint64 { return v.lo }

// Hi returns the high 64 bits of an integer.
func (v Value) Hi() uint64 { return v.hi }

// Uint64 returns the low 64 bits.
func (v Value) Uint64() uint64 { return v.lo }

// Int64 returns the low 64 bits as a signed integer.
func (v Value) Int64() int64 { return int64(v.lo) }

// IsTrue reports whether v is the true ADT.
func (v Value) IsTrue() bool { return v.Kind == ADT && v.Tag == TrueTag && len(v.Fields) == 0 }

// Equal compares two values structurally.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch {
	case a.Kind.IsInt():
		return a.lo == b.lo && a.hi == b.hi
	case a.Kind == Data:
		return bytes.Equal(a.Data, b.Data)
	case a.Kind == Sig && a.Fn != b.Fn:
		return false
	}
	if a.Tag != b.Tag || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if !Equal(a.Fields[i], b.Fields[i]) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch {
	case v.Kind.IsInt():
		return fmt.Sprintf("%s(%s)", v.Kind, intString(v))
	case v.Kind == Data:
		return fmt.Sprintf("Data(%x)", v.Data)
	case v.Kind == ADT || v.Kind == Sig:
		parts := make([]string, len(v.Fields))
		for i, f := range v.Fields {
			parts[i] = f.String()
		}
		if v.Kind == Sig {
			return fmt.Sprintf("Sig#%d[%s]", v.Fn, strings.Join(parts, " "))
		}
		return fmt.Sprintf("ADT%d[%s]", v.Tag, strings.Join(parts, " "))
	}
	return v.Kind.String()
}
