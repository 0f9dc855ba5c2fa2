package value

import (
	"github.com/chazu/sanskrit/errs"
)

// SchemaKind is the shape category of a Schema.
type SchemaKind uint8

const (
	SchemaInt SchemaKind = iota
	SchemaData
	SchemaBool
	SchemaUnit
	SchemaADT
	SchemaSig
)

// Schema describes the runtime shape of a concrete type. Descriptors carry
// schemas for entry parameters and returns so that values bound from
// literals, witnesses and the store can be checked before execution.
type Schema struct {
	Kind  SchemaKind  `cbor:"1,keyasint"`
	Int   Kind        `cbor:"2,keyasint,omitempty"`
	Ctors [][]*Schema `cbor:"3,keyasint,omitempty"`
}

// Conforms checks that v has the shape described by s.
func (s *Schema) Conforms(v Value) error {
	switch s.Kind {
	case SchemaInt:
		if v.Kind != s.Int {
			return errs.Newf(errs.Integrity, "value kind %s, want %s", v.Kind, s.Int)
		}
	case SchemaData:
		if v.Kind != Data {
			return errs.Newf(errs.Integrity, "value kind %s, want Data", v.Kind)
		}
	case SchemaBool:
		if v.Kind != ADT || v.Tag > TrueTag || len(v.Fields) != 0 {
			return errs.New(errs.Integrity, "value is not a Bool")
		}
	case SchemaUnit:
		if v.Kind != ADT || v.Tag != 0 || len(v.Fields) != 0 {
			return errs.New(errs.Integrity, "value is not Unit")
		}
	case SchemaADT:
		if v.Kind != ADT {
			return errs.Newf(errs.Integrity, "value kind %s, want ADT", v.Kind)
		}
		if int(v.Tag) >= len(s.Ctors) {
			return errs.Newf(errs.Integrity, "constructor tag %d out of range", v.Tag)
		}
		ctor := s.Ctors[v.Tag]
		if len(ctor) != len(v.Fields) {
			return errs.Newf(errs.Integrity, "constructor %d has %d fields, value has %d", v.Tag, len(ctor), len(v.Fields))
		}
		for i, f := range ctor {
			if err := f.Conforms(v.Fields[i]); err != nil {
				return err
			}
		}
	case SchemaSig:
		return errs.New(errs.Integrity, "signature values cannot cross a transaction boundary")
	default:
		return errs.Newf(errs.Integrity, "unknown schema kind %d", s.Kind)
	}
	return nil
}
