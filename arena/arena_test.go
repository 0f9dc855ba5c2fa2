package arena

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/sanskrit/errs"
)

func TestBytesAllocAndCapacity(t *testing.T) {
	a := NewBytes(8)
	b, err := a.Alloc(5)
	require.NoError(t, err)
	require.Len(t, b, 5)
	require.Equal(t, 5, cap(b))

	_, err = a.Alloc(4)
	require.ErrorIs(t, err, errs.ErrOutOfMemory)

	c, err := a.Copy([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, c)
	require.Equal(t, 8, a.Used())
}

func TestBytesAppendDoesNotClobberNeighbour(t *testing.T) {
	a := NewBytes(16)
	first, _ := a.Alloc(2)
	second, _ := a.Copy([]byte{9, 9})
	_ = append(first, 7)
	require.Equal(t, []byte{9, 9}, second)
}

func TestBytesTempReleases(t *testing.T) {
	a := NewBytes(16)
	_, _ = a.Alloc(4)
	err := a.Temp(func(t *Bytes) error {
		_, err := t.Alloc(10)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 4, a.Used())
}

func TestBytesStaleMarkAfterReset(t *testing.T) {
	a := NewBytes(16)
	_, _ = a.Alloc(4)
	m := a.Mark()
	a.Reset()
	require.Equal(t, 0, a.Used())
	require.Equal(t, uint64(1), a.Generation())
	require.ErrorIs(t, a.Release(m), ErrStaleMark)
}

func TestHeapGrowsInChunks(t *testing.T) {
	h := NewHeap[int](100).WithChunkSize(4)
	a, err := h.Alloc(3)
	require.NoError(t, err)
	b, err := h.Alloc(3)
	require.NoError(t, err)
	a[0], b[0] = 1, 2
	require.Equal(t, 1, a[0])
	require.Equal(t, 6, h.Used())

	big, err := h.Alloc(10)
	require.NoError(t, err)
	require.Len(t, big, 10)

	_, err = h.Alloc(100)
	require.ErrorIs(t, err, errs.ErrOutOfMemory)
}

func TestHeapReleaseRestoresHighWaterMark(t *testing.T) {
	h := NewHeap[int](64).WithChunkSize(4)
	keep, _ := h.Alloc(2)
	keep[0] = 42
	m := h.Mark()
	for i := 0; i < 5; i++ {
		s, err := h.Alloc(3)
		require.NoError(t, err)
		s[0] = i
	}
	require.NoError(t, h.Release(m))
	require.Equal(t, m.Used(), h.Used())
	require.Equal(t, 42, keep[0])

	next, err := h.Alloc(2)
	require.NoError(t, err)
	require.Equal(t, []int{0, 0}, next)
}

func TestHeapNewAndBuilder(t *testing.T) {
	h := NewHeap[string](8)
	p, err := h.New()
	require.NoError(t, err)
	*p = "x"

	b, err := h.Builder(3)
	require.NoError(t, err)
	b.Push("a")
	b.Push("b")
	require.Equal(t, []string{"a", "b"}, b.Finish())
	require.Equal(t, 2, b.Len())
}

func TestHeapResetBumpsGeneration(t *testing.T) {
	h := NewHeap[int](8)
	_, _ = h.Alloc(4)
	m := h.Mark()
	h.Reset()
	require.Equal(t, 0, h.Used())
	require.ErrorIs(t, h.Release(m), ErrStaleMark)
	require.NoError(t, h.Temp(func(h *Heap[int]) error {
		_, err := h.Alloc(8)
		return err
	}))
	require.Equal(t, 0, h.Used())
}
