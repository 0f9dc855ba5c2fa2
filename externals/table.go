package externals

import (
	"crypto/ed25519"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/value"
)

// Untyped call ordinals on hash.SystemModule.
const (
	SysHash uint8 = iota
	SysJoinHash
	SysDeriveID
	SysVerify
	SysEqData
)

// Typed call ordinals on hash.IntModule.
const (
	IntAdd uint8 = iota
	IntSub
	IntMul
	IntDiv
	IntAnd
	IntOr
	IntXor
	IntNot
	IntEq
	IntLt
	IntGt
	IntLte
	IntGte
	IntToData
	IntFromData
	IntHash
)

// perWord charges one unit per started 8-byte word of every data operand.
func perWord(_ value.Kind, args []value.Value) uint64 {
	var n uint64
	for _, a := range args {
		if a.Kind == value.Data {
			n += uint64(len(a.Data)+7) / 8
		}
	}
	return n
}

func dataResult(a *value.Alloc, h hash.Hash) (value.Value, error) {
	return a.Data(h[:])
}

var (
	data1 = []Shape{ShapeData}
	data2 = []Shape{ShapeData, ShapeData}
	kind1 = []Shape{ShapeKind}
	kind2 = []Shape{ShapeKind, ShapeKind}
)

// ---------------------------------------------------------------------------
// Untyped table
// ---------------------------------------------------------------------------

var untypedTable = []Entry{
	SysHash: {
		Name: "hash", Params: data1, Returns: ShapeData, Mode: capability.Pure,
		Gas: 65, Dynamic: perWord,
		Fn: func(a *value.Alloc, _ value.Kind, args []value.Value) (value.Value, error) {
			return dataResult(a, hash.Sum(hash.DomainPlain, args[0].Data))
		},
	},
	SysJoinHash: {
		Name: "join_hash", Params: data2, Returns: ShapeData, Mode: capability.Pure,
		Gas: 70,
		Fn: func(a *value.Alloc, _ value.Kind, args []value.Value) (value.Value, error) {
			return dataResult(a, hash.Derive(hash.DomainJoin, args[0].Data, args[1].Data))
		},
	},
	SysDeriveID: {
		Name: "derive_id", Params: data2, Returns: ShapeData, Mode: capability.Pure,
		Gas: 70, Dynamic: perWord,
		Fn: func(a *value.Alloc, _ value.Kind, args []value.Value) (value.Value, error) {
			return dataResult(a, hash.Derive(hash.DomainIdentity, args[0].Data, args[1].Data))
		},
	},
	SysVerify: {
		Name: "verify", Params: []Shape{ShapeData, ShapeData, ShapeData}, Returns: ShapeBool,
		Mode: capability.Pure, Gas: 4500, Dynamic: perWord,
		Fn: func(_ *value.Alloc, _ value.Kind, args []value.Value) (value.Value, error) {
			msg, pk, sig := args[0].Data, args[1].Data, args[2].Data
			if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
				return value.Bool(false), nil
			}
			return value.Bool(ed25519.Verify(ed25519.PublicKey(pk), msg, sig)), nil
		},
	},
	SysEqData: {
		Name: "eq_data", Params: data2, Returns: ShapeBool, Mode: capability.Pure,
		Gas: 14, Dynamic: perWord,
		Fn: func(_ *value.Alloc, _ value.Kind, args []value.Value) (value.Value, error) {
			return value.Eq(value.Data, args[0], args[1])
		},
	},
}

// ---------------------------------------------------------------------------
// Typed table
// ---------------------------------------------------------------------------

func binary(name string, gas uint64, op func(value.Kind, value.Value, value.Value) (value.Value, error), result Shape) Entry {
	return Entry{
		Name: name, Typed: true, Params: kind2, Returns: result, Mode: capability.Pure, Gas: gas,
		Fn: func(_ *value.Alloc, k value.Kind, args []value.Value) (value.Value, error) {
			return op(k, args[0], args[1])
		},
	}
}

var typedTable = []Entry{
	IntAdd: binary("add", 12, value.Add, ShapeKind),
	IntSub: binary("sub", 12, value.Sub, ShapeKind),
	IntMul: binary("mul", 16, value.Mul, ShapeKind),
	IntDiv: binary("div", 18, value.Div, ShapeKind),
	IntAnd: binary("and", 12, value.And, ShapeKind),
	IntOr:  binary("or", 12, value.Or, ShapeKind),
	IntXor: binary("xor", 12, value.Xor, ShapeKind),
	IntNot: {
		Name: "not", Typed: true, Params: kind1, Returns: ShapeKind, Mode: capability.Pure, Gas: 12,
		Fn: func(_ *value.Alloc, k value.Kind, args []value.Value) (value.Value, error) {
			return value.Not(k, args[0])
		},
	},
	IntEq:  binary("eq", 12, value.Eq, ShapeBool),
	IntLt:  binary("lt", 12, value.Lt, ShapeBool),
	IntGt:  binary("gt", 12, value.Gt, ShapeBool),
	IntLte: binary("lte", 12, value.Lte, ShapeBool),
	IntGte: binary("gte", 12, value.Gte, ShapeBool),
	IntToData: {
		Name: "to_data", Typed: true, Params: kind1, Returns: ShapeData, Mode: capability.Pure, Gas: 14,
		Fn: func(a *value.Alloc, k value.Kind, args []value.Value) (value.Value, error) {
			return a.Data(value.IntBytes(args[0]))
		},
	},
	IntFromData: {
		Name: "from_data", Typed: true, Params: data1, Returns: ShapeKind, Mode: capability.Pure, Gas: 14,
		Fn: func(_ *value.Alloc, k value.Kind, args []value.Value) (value.Value, error) {
			return value.IntFromBytes(k, args[0].Data)
		},
	},
	IntHash: {
		Name: "hash", Typed: true, Params: kind1, Returns: ShapeData, Mode: capability.Pure, Gas: 65,
		Dynamic: func(k value.Kind, _ []value.Value) uint64 { return uint64(k.Width()+7) / 8 },
		Fn: func(a *value.Alloc, _ value.Kind, args []value.Value) (value.Value, error) {
			return dataResult(a, hash.Sum(hash.DomainPlain, value.IntBytes(args[0])))
		},
	},
}
