package value

import (
	"github.com/chazu/sanskrit/codec"
	"github.com/chazu/sanskrit/errs"
)

// ---------------------------------------------------------------------------
// Wire encoding
//
//   value := kind u8 | body
//   int   := little-endian, kind width bytes
//   data  := u32 length | bytes
//   adt   := tag u8 | nFields u8 | value*
// ---------------------------------------------------------------------------

// Serialize writes the canonical encoding of v.
func Serialize(w *codec.Writer, v Value) error {
	if err := w.Enter(); err != nil {
		return err
	}
	defer w.Leave()
	w.U8(uint8(v.Kind))
	switch {
	case v.Kind.IsInt():
		w.Raw(IntBytes(v))
	case v.Kind == Data:
		return w.Blob(v.Data)
	case v.Kind == ADT:
		w.U8(v.Tag)
		if err := w.Len8(len(v.Fields)); err != nil {
			return err
		}
		for _, f := range v.Fields {
			if err := Serialize(w, f); err != nil {
				return err
			}
		}
	default:
		return errs.Newf(errs.Parse, "%s values have no wire form", v.Kind)
	}
	return nil
}

// Encode returns the canonical encoding of v.
func Encode(v Value, depth int) ([]byte, error) {
	w := codec.NewWriter(depth)
	if err := Serialize(w, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Parse reads one value, allocating payloads from a.
func Parse(r *codec.Reader, a *Alloc) (Value, error) {
	if err := r.Enter(); err != nil {
		return Value{}, err
	}
	defer r.Leave()
	k, err := r.Enum("value kind", uint8(Sig))
	if err != nil {
		return Value{}, err
	}
	kind := Kind(k)
	switch {
	case kind.IsInt():
		b, err := r.Raw(kind.Width())
		if err != nil {
			return Value{}, err
		}
		v, err := IntFromBytes(kind, b)
		if err != nil {
			return Value{}, errs.Wrap(errs.Parse, err, "integer")
		}
		return v, nil
	case kind == Data:
		b, err := r.Blob()
		if err != nil {
			return Value{}, err
		}
		return a.Data(b)
	}
	tag, err := r.U8()
	if err != nil {
		return Value{}, err
	}
	n, err := r.Len8()
	if err != nil {
		return Value{}, err
	}
	fields, err := a.Fields.Alloc(n)
	if err != nil {
		return Value{}, err
	}
	for i := range fields {
		if fields[i], err = Parse(r, a); err != nil {
			return Value{}, err
		}
	}
	return Value{Kind: ADT, Tag: tag, Fields: fields}, nil
}

// Decode parses a complete encoding.
func Decode(b []byte, depth int, a *Alloc) (Value, error) {
	r := codec.NewReader(b, depth)
	v, err := Parse(r, a)
	if err != nil {
		return Value{}, err
	}
	if err := r.Done(); err != nil {
		return Value{}, err
	}
	return v, nil
}
