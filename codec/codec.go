// Package codec implements the deterministic binary encoding shared by all
// on-wire structures.
//
// Encoding conventions:
//   - Multi-byte integers: little-endian fixed width
//   - Tags, kinds and small counts: single byte
//   - Op lists: uint16 count
//   - Byte blobs: uint32 length + bytes
//   - Hashes: 20 raw bytes
//
// Both directions enforce a nesting depth limit so that hostile inputs
// cannot exhaust the Go stack through deeply nested structures.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
)

// DefaultDepth is the nesting limit used when callers pass zero.
const DefaultDepth = 64

var (
	// ErrParse is the base error of every decoding failure.
	ErrParse = errs.ErrParse
	// ErrDepth is returned when nesting exceeds the configured limit.
	ErrDepth = errs.New(errs.Parse, "nesting depth limit exceeded")
)

// Serializable is implemented by every type with a canonical encoding.
type Serializable interface {
	Serialize(w *Writer) error
}

// Encode serializes v with the given depth limit.
func Encode(v Serializable, depth int) ([]byte, error) {
	w := NewWriter(depth)
	if err := v.Serialize(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Writer accumulates an encoding.
type Writer struct {
	buf   []byte
	depth int
	limit int
}

// NewWriter creates a writer with the given depth limit.
func NewWriter(limit int) *Writer {
	if limit <= 0 {
		limit = DefaultDepth
	}
	return &Writer{buf: make([]byte, 0, 256), limit: limit}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Enter descends one nesting level.
func (w *Writer) Enter() error {
	w.depth++
	if w.depth > w.limit {
		return ErrDepth
	}
	return nil
}

// Leave ascends one nesting level.
func (w *Writer) Leave() { w.depth-- }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) Hash(h hash.Hash) { w.buf = append(w.buf, h[:]...) }

// Raw appends b without a length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Blob appends a uint32 length-prefixed blob.
func (w *Writer) Blob(b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return fmt.Errorf("codec: blob of %d bytes too large", len(b))
	}
	w.U32(uint32(len(b)))
	w.Raw(b)
	return nil
}

// Len8 writes a single-byte count.
func (w *Writer) Len8(n int) error {
	if n > math.MaxUint8 {
		return fmt.Errorf("codec: count %d exceeds 255", n)
	}
	w.U8(uint8(n))
	return nil
}

// Len16 writes a two-byte count.
func (w *Writer) Len16(n int) error {
	if n > math.MaxUint16 {
		return fmt.Errorf("codec: count %d exceeds 65535", n)
	}
	w.U16(uint16(n))
	return nil
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Reader decodes from a byte slice. Returned blobs alias the input.
type Reader struct {
	data  []byte
	off   int
	depth int
	limit int
}

// NewReader creates a reader with the given depth limit.
func NewReader(data []byte, limit int) *Reader {
	if limit <= 0 {
		limit = DefaultDepth
	}
	return &Reader{data: data, limit: limit}
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Limit returns the configured depth limit.
func (r *Reader) Limit() int { return r.limit }

// Enter descends one nesting level.
func (r *Reader) Enter() error {
	r.depth++
	if r.depth > r.limit {
		return ErrDepth
	}
	return nil
}

// Leave ascends one nesting level.
func (r *Reader) Leave() { r.depth-- }

// Done fails if input remains.
func (r *Reader) Done() error {
	if r.off != len(r.data) {
		return errs.Newf(errs.Parse, "%d trailing bytes at offset %d", len(r.data)-r.off, r.off)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, errs.Newf(errs.Parse, "unexpected end of input at offset %d (need %d)", r.off, n)
	}
	b := r.data[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool reads a byte that must be 0 or 1.
func (r *Reader) Bool() (bool, error) {
	b, err := r.U8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errs.Newf(errs.Parse, "invalid bool byte %#x", b)
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Hash() (hash.Hash, error) {
	var h hash.Hash
	b, err := r.take(hash.Size)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Raw reads exactly n bytes.
func (r *Reader) Raw(n int) ([]byte, error) { return r.take(n) }

// Blob reads a uint32 length-prefixed blob.
func (r *Reader) Blob() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Remaining()) {
		return nil, errs.Newf(errs.Parse, "blob length %d exceeds input", n)
	}
	return r.take(int(n))
}

// Len8 reads a single-byte count.
func (r *Reader) Len8() (int, error) {
	n, err := r.U8()
	return int(n), err
}

// Len16 reads a two-byte count.
func (r *Reader) Len16() (int, error) {
	n, err := r.U16()
	return int(n), err
}

// Enum reads a discriminant byte and checks it is below limit.
func (r *Reader) Enum(what string, limit uint8) (uint8, error) {
	b, err := r.U8()
	if err != nil {
		return 0, err
	}
	if b >= limit {
		return 0, errs.Newf(errs.Parse, "%s discriminant %d out of range", what, b)
	}
	return b, nil
}
