package externals

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/value"
)

func data(a *value.Alloc, t *testing.T, b []byte) value.Value {
	v, err := a.Data(b)
	require.NoError(t, err)
	return v
}

func call(t *testing.T, e *Entry, k value.Kind, args ...value.Value) value.Value {
	t.Helper()
	out, err := e.Fn(value.NewAlloc(1<<10, 64), k, args)
	require.NoError(t, err)
	return out
}

func TestTableShape(t *testing.T) {
	r := Default()
	require.Equal(t, 5+16, r.Len())
	for id := uint8(0); id < 5; id++ {
		e, ok := r.Untyped(id)
		require.True(t, ok)
		require.False(t, e.Typed)
		require.Equal(t, capability.Pure, e.Mode)
	}
	for id := uint8(0); id < 16; id++ {
		e, ok := r.Typed(id)
		require.True(t, ok, "typed %d", id)
		require.True(t, e.Typed)
	}
	_, ok := r.Untyped(5)
	require.False(t, ok)
	_, ok = r.Lookup(hash.Zero, 0)
	require.False(t, ok)
}

func TestVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := []byte("transfer 10 to alice")
	sig := ed25519.Sign(priv, msg)

	e, _ := Default().Untyped(SysVerify)
	a := value.NewAlloc(1<<12, 64)
	ok := call(t, e, 0, data(a, t, msg), data(a, t, pub), data(a, t, sig))
	require.True(t, ok.IsTrue())

	for bit := 0; bit < len(sig)*8; bit += 61 {
		bad := append([]byte(nil), sig...)
		bad[bit/8] ^= 1 << (bit % 8)
		res := call(t, e, 0, data(a, t, msg), data(a, t, pub), data(a, t, bad))
		require.Equal(t, value.FalseTag, res.Tag, "bit %d", bit)
		require.Empty(t, res.Fields)
	}

	short := call(t, e, 0, data(a, t, msg), data(a, t, pub[:31]), data(a, t, sig))
	require.False(t, short.IsTrue())
	short = call(t, e, 0, data(a, t, msg), data(a, t, pub), data(a, t, sig[:10]))
	require.False(t, short.IsTrue())
}

func TestHashCalls(t *testing.T) {
	a := value.NewAlloc(1<<12, 64)
	r := Default()

	h, _ := r.Untyped(SysHash)
	out := call(t, h, 0, data(a, t, []byte("abc")))
	want := hash.Sum(hash.DomainPlain, []byte("abc"))
	require.Equal(t, want[:], out.Data)

	// hashing an integer equals hashing its data conversion
	ih, _ := r.Typed(IntHash)
	td, _ := r.Typed(IntToData)
	n := value.Uint(value.U32, 0xdeadbeef)
	viaData := call(t, h, 0, call(t, td, value.U32, n))
	direct := call(t, ih, value.U32, n)
	require.Equal(t, viaData.Data, direct.Data)

	j, _ := r.Untyped(SysJoinHash)
	ab := call(t, j, 0, data(a, t, []byte("a")), data(a, t, []byte("bc")))
	abc := call(t, j, 0, data(a, t, []byte("ab")), data(a, t, []byte("c")))
	require.NotEqual(t, ab.Data, abc.Data)
	require.Len(t, ab.Data, hash.Size)
}

func TestTypedArithmetic(t *testing.T) {
	r := Default()
	add, _ := r.Typed(IntAdd)
	sum := call(t, add, value.U16, value.Uint(value.U16, 300), value.Uint(value.U16, 12))
	require.Equal(t, uint64(312), sum.Uint64())

	_, err := add.Fn(nil, value.U8, []value.Value{value.Uint(value.U8, 255), value.Uint(value.U8, 1)})
	require.ErrorIs(t, err, value.ErrOverflow)

	from, _ := r.Typed(IntFromData)
	a := value.NewAlloc(64, 8)
	_, err = from.Fn(a, value.U32, []value.Value{data(a, t, []byte{1, 2})})
	require.ErrorIs(t, err, value.ErrConversion)

	lt, _ := r.Typed(IntLt)
	res := call(t, lt, value.I8, value.Signed(value.I8, -1), value.Signed(value.I8, 0))
	require.True(t, res.IsTrue())
	params, result := lt.Resolve(value.I8)
	require.Equal(t, []value.Kind{value.I8, value.I8}, params)
	require.Equal(t, value.ADT, result)
}

func TestCost(t *testing.T) {
	a := value.NewAlloc(1<<12, 8)
	h, _ := Default().Untyped(SysHash)
	require.Equal(t, uint64(65), h.Cost(0, []value.Value{data(a, t, nil)}))
	require.Equal(t, uint64(65+2), h.Cost(0, []value.Value{data(a, t, make([]byte, 9))}))
	j, _ := Default().Untyped(SysJoinHash)
	require.Equal(t, uint64(70), j.Cost(0, []value.Value{data(a, t, make([]byte, 100)), data(a, t, nil)}))
}
