package model

import (
	"github.com/chazu/sanskrit/codec"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
)

// encoder wraps a codec.Writer with a sticky error so that serializers can
// be written as straight-line code.
type encoder struct {
	w   *codec.Writer
	err error
}

func (e *encoder) u8(v uint8)       { e.w.U8(v) }
func (e *encoder) u16(v uint16)     { e.w.U16(v) }
func (e *encoder) hash(h hash.Hash) { e.w.Hash(h) }
func (e *encoder) raw(b []byte)     { e.w.Raw(b) }
func (e *encoder) ref(v ValueRef)   { e.w.U16(uint16(v)) }
func (e *encoder) flag(b bool)      { e.w.Bool(b) }
func (e *encoder) set(err error)    { e.err = firstErr(e.err, err) }
func (e *encoder) len8(n int)       { e.set(e.w.Len8(n)) }
func (e *encoder) len16(n int)      { e.set(e.w.Len16(n)) }
func (e *encoder) blob(b []byte)    { e.set(e.w.Blob(b)) }
func (e *encoder) failf(f string, args ...any) {
	e.set(errs.Newf(errs.Parse, f, args...))
}

func (e *encoder) refs(rs []ValueRef) {
	e.len8(len(rs))
	for _, r := range rs {
		e.ref(r)
	}
}

func (e *encoder) typeRefs(rs []TypeRef) {
	e.len8(len(rs))
	for _, r := range rs {
		e.u8(uint8(r))
	}
}

// enter reports whether nesting may continue. Callers that get true must
// call leave.
func (e *encoder) enter() bool {
	if e.err != nil {
		return false
	}
	e.set(e.w.Enter())
	return e.err == nil
}

func (e *encoder) leave() { e.w.Leave() }

// decoder is the reading counterpart of encoder.
type decoder struct {
	r   *codec.Reader
	err error
}

func (d *decoder) set(err error) { d.err = firstErr(d.err, err) }

func (d *decoder) failf(f string, args ...any) {
	d.set(errs.Newf(errs.Parse, f, args...))
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.U8()
	d.set(err)
	return v
}

func (d *decoder) u16() uint16 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.U16()
	d.set(err)
	return v
}

func (d *decoder) flag() bool {
	if d.err != nil {
		return false
	}
	v, err := d.r.Bool()
	d.set(err)
	return v
}

func (d *decoder) enum(what string, limit uint8) uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.Enum(what, limit)
	d.set(err)
	return v
}

func (d *decoder) hash() hash.Hash {
	if d.err != nil {
		return hash.Zero
	}
	h, err := d.r.Hash()
	d.set(err)
	return h
}

func (d *decoder) len8() int  { return int(d.u8()) }
func (d *decoder) len16() int { return int(d.u16()) }

func (d *decoder) ref() ValueRef { return ValueRef(d.u16()) }

func (d *decoder) refs() []ValueRef {
	n := d.len8()
	if d.err != nil || n == 0 {
		return nil
	}
	rs := make([]ValueRef, n)
	for i := range rs {
		rs[i] = d.ref()
	}
	return rs
}

func (d *decoder) typeRefs() []TypeRef {
	n := d.len8()
	if d.err != nil || n == 0 {
		return nil
	}
	rs := make([]TypeRef, n)
	for i := range rs {
		rs[i] = TypeRef(d.u8())
	}
	return rs
}

// raw reads n bytes and copies them out of the input buffer.
func (d *decoder) raw(n int) []byte {
	if d.err != nil {
		return nil
	}
	b, err := d.r.Raw(n)
	d.set(err)
	return append([]byte(nil), b...)
}

func (d *decoder) blob() []byte {
	if d.err != nil {
		return nil
	}
	b, err := d.r.Blob()
	d.set(err)
	return append([]byte(nil), b...)
}

func (d *decoder) enter() bool {
	if d.err != nil {
		return false
	}
	d.set(d.r.Enter())
	return d.err == nil
}

func (d *decoder) leave() { d.r.Leave() }

func (d *decoder) done() error {
	if d.err != nil {
		return d.err
	}
	return d.r.Done()
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
