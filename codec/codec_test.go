package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Uint8().Draw(t, "a")
		b := rapid.Uint16().Draw(t, "b")
		c := rapid.Uint32().Draw(t, "c")
		d := rapid.Uint64().Draw(t, "d")
		blob := rapid.SliceOf(rapid.Byte()).Draw(t, "blob")
		flag := rapid.Bool().Draw(t, "flag")

		w := NewWriter(0)
		w.U8(a)
		w.U16(b)
		w.U32(c)
		w.U64(d)
		if err := w.Blob(blob); err != nil {
			t.Fatal(err)
		}
		w.Bool(flag)

		r := NewReader(w.Bytes(), 0)
		ga, _ := r.U8()
		gb, _ := r.U16()
		gc, _ := r.U32()
		gd, _ := r.U64()
		gblob, err := r.Blob()
		if err != nil {
			t.Fatal(err)
		}
		gflag, _ := r.Bool()
		if ga != a || gb != b || gc != c || gd != d || gflag != flag || string(gblob) != string(blob) {
			t.Fatalf("round trip mismatch")
		}
		if err := r.Done(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLittleEndian(t *testing.T) {
	w := NewWriter(0)
	w.U16(0x0102)
	w.U32(0x03040506)
	require.Equal(t, []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03}, w.Bytes())
}

func TestReaderErrors(t *testing.T) {
	r := NewReader([]byte{0x05}, 0)
	_, err := r.U16()
	require.ErrorIs(t, err, errs.ErrParse)

	r = NewReader([]byte{2}, 0)
	_, err = r.Bool()
	require.ErrorIs(t, err, ErrParse)

	r = NewReader([]byte{9}, 0)
	_, err = r.Enum("kind", 4)
	require.ErrorIs(t, err, ErrParse)

	r = NewReader([]byte{0xff, 0xff, 0, 0, 1}, 0)
	_, err = r.Blob()
	require.ErrorIs(t, err, ErrParse)

	r = NewReader([]byte{1, 2}, 0)
	_, _ = r.U8()
	require.ErrorIs(t, r.Done(), ErrParse)
}

func TestDepthLimit(t *testing.T) {
	r := NewReader(nil, 2)
	require.NoError(t, r.Enter())
	require.NoError(t, r.Enter())
	require.ErrorIs(t, r.Enter(), ErrDepth)
	require.ErrorIs(t, r.Enter(), errs.ErrParse)

	w := NewWriter(1)
	require.NoError(t, w.Enter())
	require.Error(t, w.Enter())
	w.Leave()
	w.Leave()
	require.NoError(t, w.Enter())
}

func TestHashAndCounts(t *testing.T) {
	h := hash.Sum(hash.DomainPlain, []byte("abc"))
	w := NewWriter(0)
	w.Hash(h)
	require.NoError(t, w.Len8(255))
	require.Error(t, w.Len8(256))
	require.NoError(t, w.Len16(300))

	r := NewReader(w.Bytes(), 0)
	got, err := r.Hash()
	require.NoError(t, err)
	require.Equal(t, h, got)
	n, _ := r.Len8()
	require.Equal(t, 255, n)
	m, _ := r.Len16()
	require.Equal(t, 300, m)
	require.Equal(t, 0, r.Remaining())
}
