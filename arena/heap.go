package arena

// DefaultChunk is the element count of a heap chunk.
const DefaultChunk = 1024

// ---------------------------------------------------------------------------
// Heap: chunked virtual heap of typed elements
// ---------------------------------------------------------------------------

// Heap is a virtual arena of T that grows in chunks up to a fixed element
// limit. Released chunks are kept for reuse.
type Heap[T any] struct {
	chunks [][]T
	cur    int // index of the chunk being filled
	off    int // fill offset in chunks[cur]
	used   int // total elements handed out
	limit  int
	size   int
	gen    uint64
}

// NewHeap creates a heap holding at most limit elements.
func NewHeap[T any](limit int) *Heap[T] {
	return &Heap[T]{limit: limit, size: DefaultChunk}
}

// WithChunkSize overrides the chunk size. Intended for tests.
func (h *Heap[T]) WithChunkSize(n int) *Heap[T] {
	if n > 0 {
		h.size = n
	}
	return h
}

// New allocates a single zero element and returns a handle to it.
func (h *Heap[T]) New() (*T, error) {
	s, err := h.Alloc(1)
	if err != nil {
		return nil, err
	}
	return &s[0], nil
}

// Alloc returns a zeroed slice of n elements with clipped capacity.
func (h *Heap[T]) Alloc(n int) ([]T, error) {
	if n < 0 || h.used+n > h.limit {
		return nil, ErrOutOfMemory
	}
	if n == 0 {
		return nil, nil
	}
	if len(h.chunks) == 0 {
		h.chunks = append(h.chunks, make([]T, max(h.size, n)))
	}
	for h.off+n > len(h.chunks[h.cur]) {
		h.cur++
		h.off = 0
		if h.cur == len(h.chunks) {
			h.chunks = append(h.chunks, make([]T, max(h.size, n)))
		} else if len(h.chunks[h.cur]) < n {
			h.chunks[h.cur] = make([]T, n)
		}
	}
	c := h.chunks[h.cur]
	out := c[h.off : h.off+n : h.off+n]
	h.off += n
	h.used += n
	return out, nil
}

// Builder returns a slice builder that allocates its backing store from h.
func (h *Heap[T]) Builder(n int) (*SliceBuilder[T], error) {
	s, err := h.Alloc(n)
	if err != nil {
		return nil, err
	}
	return &SliceBuilder[T]{buf: s}, nil
}

// Mark returns the current high-water mark.
func (h *Heap[T]) Mark() Mark {
	return Mark{gen: h.gen, chunk: h.cur, off: h.off, used: h.used}
}

// Release discards every allocation made after m. Released elements are
// zeroed so they do not keep payloads reachable.
func (h *Heap[T]) Release(m Mark) error {
	if m.gen != h.gen || m.used > h.used {
		return ErrStaleMark
	}
	if len(h.chunks) == 0 {
		h.used = m.used
		return nil
	}
	for i := h.cur; i > m.chunk; i-- {
		clear(h.chunks[i])
	}
	clear(h.chunks[m.chunk][m.off:])
	h.cur, h.off, h.used = m.chunk, m.off, m.used
	return nil
}

// Temp runs fn in a temporary scope released on return.
func (h *Heap[T]) Temp(fn func(*Heap[T]) error) error {
	m := h.Mark()
	err := fn(h)
	if rerr := h.Release(m); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Reset empties the heap for reuse and starts a new generation.
func (h *Heap[T]) Reset() {
	for i := 0; i <= h.cur && i < len(h.chunks); i++ {
		clear(h.chunks[i])
	}
	h.cur, h.off, h.used = 0, 0, 0
	h.gen++
}

// Used returns the number of elements allocated.
func (h *Heap[T]) Used() int { return h.used }

// Limit returns the element limit.
func (h *Heap[T]) Limit() int { return h.limit }

// Generation returns the current generation.
func (h *Heap[T]) Generation() uint64 { return h.gen }

// SliceBuilder fills a fixed-size arena slice front to back.
type SliceBuilder[T any] struct {
	buf []T
	n   int
}

// Push appends v. It panics if the builder is full, which indicates a
// miscounted allocation in the caller.
func (b *SliceBuilder[T]) Push(v T) {
	b.buf[b.n] = v
	b.n++
}

// Len returns the number of pushed elements.
func (b *SliceBuilder[T]) Len() int { return b.n }

// Finish returns the filled prefix.
func (b *SliceBuilder[T]) Finish() []T { return b.buf[:b.n] }
