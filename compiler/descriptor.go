package compiler

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/value"
)

// ---------------------------------------------------------------------------
// Descriptor: the executable form of a transaction or function
// ---------------------------------------------------------------------------

// Op is a lowered operation. Permissions are erased, callables are indices
// into Descriptor.Functions and errors are indices into Descriptor.Errors.
type Op struct {
	Code model.Op `cbor:"1,keyasint"`
	// Gas is the static cost charged before the op runs. Unit is charged
	// additionally per started word of data operands (Eq) or per field of
	// the selected constructor (Switch).
	Gas  uint64 `cbor:"2,keyasint,omitempty"`
	Unit uint64 `cbor:"3,keyasint,omitempty"`

	Kind  value.Kind `cbor:"4,keyasint,omitempty"`
	Value uint16     `cbor:"5,keyasint,omitempty"`
	Other uint16     `cbor:"6,keyasint,omitempty"`
	Refs  []uint16   `cbor:"7,keyasint,omitempty"`
	Tag   uint8      `cbor:"8,keyasint,omitempty"`
	// Fields is the field count of an unpacked value or the index of a
	// Get. Counts holds the field count of each switch constructor.
	Fields uint8   `cbor:"9,keyasint,omitempty"`
	Counts []uint8 `cbor:"10,keyasint,omitempty"`
	Fn     uint32  `cbor:"11,keyasint,omitempty"`
	ID     uint8   `cbor:"12,keyasint,omitempty"`
	Error  uint32  `cbor:"13,keyasint,omitempty"`
	Bytes  []byte  `cbor:"14,keyasint,omitempty"`

	Body     *Block  `cbor:"15,keyasint,omitempty"`
	Branches []Block `cbor:"16,keyasint,omitempty"`
	Catches  []Catch `cbor:"17,keyasint,omitempty"`
}

// Block is a lowered block; its last op is Return or Rollback.
type Block struct {
	Ops []Op `cbor:"1,keyasint"`
}

// Catch is a lowered try handler.
type Catch struct {
	Error uint32 `cbor:"1,keyasint"`
	Body  Block  `cbor:"2,keyasint"`
}

// Function is one reachable function or implement.
type Function struct {
	Params  uint8 `cbor:"1,keyasint"`
	Returns uint8 `cbor:"2,keyasint"`
	Body    Block `cbor:"3,keyasint"`
	// Gas is the most expensive best-case path through one call, callees
	// included. Stack is the highest operand count above the frame base
	// and Frames the deepest frame nesting, both including callees.
	Gas    uint64 `cbor:"4,keyasint"`
	Stack  uint32 `cbor:"5,keyasint"`
	Frames uint32 `cbor:"6,keyasint"`
}

// Param describes an entry parameter or return value.
type Param struct {
	TypeHash hash.Hash       `cbor:"1,keyasint"`
	Caps     capability.Caps `cbor:"2,keyasint"`
	Schema   *value.Schema   `cbor:"3,keyasint"`
	Consume  bool            `cbor:"4,keyasint,omitempty"`
}

// ErrorRef is an entry of the error table.
type ErrorRef struct {
	Module hash.Hash `cbor:"1,keyasint"`
	Offset uint8     `cbor:"2,keyasint"`
}

// ID returns the runtime error identity.
func (e ErrorRef) ID() value.ErrorID { return value.ErrorID{Module: e.Module, Offset: e.Offset} }

// Descriptor is a self-contained executable. Functions[0] is the entry.
type Descriptor struct {
	Target    hash.Hash  `cbor:"1,keyasint"`
	Functions []Function `cbor:"2,keyasint"`
	Errors    []ErrorRef `cbor:"3,keyasint,omitempty"`
	Params    []Param    `cbor:"4,keyasint,omitempty"`
	Returns   []Param    `cbor:"5,keyasint,omitempty"`
	MaxGas    uint64     `cbor:"6,keyasint"`
	MaxStack  uint32     `cbor:"7,keyasint"`
	MaxFrames uint32     `cbor:"8,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compiler: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Encode returns the canonical CBOR encoding.
func (d *Descriptor) Encode() ([]byte, error) {
	return encMode.Marshal(d)
}

// Hash is the content address of the descriptor.
func (d *Descriptor) Hash() (hash.Hash, error) {
	b, err := d.Encode()
	if err != nil {
		return hash.Zero, err
	}
	return hash.Sum(hash.DomainDescriptor, b), nil
}

// Entry returns the entry function.
func (d *Descriptor) Entry() *Function { return &d.Functions[0] }

// DecodeDescriptor parses a stored descriptor.
func DecodeDescriptor(b []byte) (*Descriptor, error) {
	var d Descriptor
	if err := cbor.Unmarshal(b, &d); err != nil {
		return nil, errs.Wrap(errs.Parse, err, "decode descriptor")
	}
	if len(d.Functions) == 0 {
		return nil, errs.New(errs.Parse, "descriptor without entry function")
	}
	return &d, nil
}
