// Package arena provides the region allocators that back every runtime
// value of the interpreter.
//
// Two kinds exist. Bytes is a bump allocator over one contiguous region,
// used for data payloads. Heap is a virtual heap of typed elements that grows
// in chunks, used for ADT field vectors. Neither supports freeing individual
// allocations: memory is reclaimed by releasing back to a Mark (temporary
// scope exit, Try rollback) or by Reset (section reuse).
//
// Every arena carries a generation counter that is bumped on Reset. Marks
// remember the generation they were taken in, so releasing to a mark taken
// before a reset is detected instead of silently corrupting live values.
package arena

import (
	"errors"

	"github.com/chazu/sanskrit/errs"
)

var (
	// ErrOutOfMemory is returned when an allocation would exceed capacity.
	ErrOutOfMemory = errs.New(errs.OutOfMemory, "arena capacity exhausted")
	// ErrStaleMark is returned when releasing to a mark from an older generation
	// or from a point above the current high-water mark.
	ErrStaleMark = errors.New("arena: stale mark")
)

// Mark records an arena high-water mark.
type Mark struct {
	gen   uint64
	chunk int
	off   int
	used  int
}

// Generation returns the generation the mark was taken in.
func (m Mark) Generation() uint64 { return m.gen }

// Used returns the number of bytes or elements allocated at the mark.
func (m Mark) Used() int { return m.used }

// ---------------------------------------------------------------------------
// Bytes: contiguous bump allocator
// ---------------------------------------------------------------------------

// Bytes is a bump allocator over a single region of fixed capacity.
type Bytes struct {
	buf []byte
	cap int
	gen uint64
}

// NewBytes creates a byte arena that can hold up to capacity bytes.
// The region is reserved lazily on first allocation.
func NewBytes(capacity int) *Bytes {
	return &Bytes{cap: capacity}
}

// Alloc returns a zeroed slice of n bytes. The slice's capacity is clipped
// so appends can never spill into neighbouring allocations.
func (a *Bytes) Alloc(n int) ([]byte, error) {
	if n < 0 || len(a.buf)+n > a.cap {
		return nil, ErrOutOfMemory
	}
	if a.buf == nil {
		a.buf = make([]byte, 0, a.cap)
	}
	start := len(a.buf)
	a.buf = a.buf[:start+n]
	out := a.buf[start : start+n : start+n]
	clear(out)
	return out, nil
}

// Copy allocates a copy of b.
func (a *Bytes) Copy(b []byte) ([]byte, error) {
	out, err := a.Alloc(len(b))
	if err != nil {
		return nil, err
	}
	copy(out, b)
	return out, nil
}

// Mark returns the current high-water mark.
func (a *Bytes) Mark() Mark {
	return Mark{gen: a.gen, used: len(a.buf)}
}

// Release discards every allocation made after m.
func (a *Bytes) Release(m Mark) error {
	if m.gen != a.gen || m.used > len(a.buf) {
		return ErrStaleMark
	}
	a.buf = a.buf[:m.used]
	return nil
}

// Temp runs fn in a temporary scope: everything fn allocates is released
// when it returns, whether or not it fails.
func (a *Bytes) Temp(fn func(*Bytes) error) error {
	m := a.Mark()
	err := fn(a)
	if rerr := a.Release(m); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Reset empties the arena for reuse and starts a new generation.
func (a *Bytes) Reset() {
	a.buf = a.buf[:0]
	a.gen++
}

// Used returns the number of bytes allocated.
func (a *Bytes) Used() int { return len(a.buf) }

// Cap returns the arena capacity.
func (a *Bytes) Cap() int { return a.cap }

// Generation returns the current generation.
func (a *Bytes) Generation() uint64 { return a.gen }
