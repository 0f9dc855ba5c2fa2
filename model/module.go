// Package model defines the immutable, content-addressed units of the
// runtime (modules and transactions), their components and the tree-shaped
// bytecode, together with their canonical binary encoding.
//
// Serialization is canonical: every accepted input re-serializes to the same
// bytes, so the hash of the input is the hash of the parsed value.
package model

import (
	"errors"

	"github.com/chazu/sanskrit/codec"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
)

const (
	// ModuleMagic starts every module encoding ('S').
	ModuleMagic byte = 0x53
	// TransactionMagic starts every transaction encoding ('T').
	TransactionMagic byte = 0x54
	// Version is the only supported format version.
	Version byte = 1
)

const (
	metaNone byte = 0
	metaHash byte = 1
)

var (
	ErrBadMagic   = errs.New(errs.Parse, "bad magic byte")
	ErrBadVersion = errs.New(errs.Parse, "unsupported format version")
	ErrEmpty      = errors.New("model: empty input")
)

// Module is a deployed unit of data types, signatures, functions and
// implements.
type Module struct {
	// Meta optionally names out-of-band metadata (sources, docs).
	Meta    *hash.Hash
	Imports []hash.Hash
	// Errors is the number of error identities the module declares.
	Errors uint8
	Data   []DataComponent
	Sigs   []SigComponent
	Funcs  []FunctionComponent
	Impls  []ImplComponent
}

// Transaction is a stand-alone entry function with its own imports.
type Transaction struct {
	Imports []hash.Hash
	Func    FunctionComponent
}

// Serialize writes the canonical encoding of m.
func (m *Module) Serialize(w *codec.Writer) error {
	e := &encoder{w: w}
	e.u8(ModuleMagic)
	e.u8(Version)
	if m.Meta != nil {
		e.u8(metaHash)
		e.hash(*m.Meta)
	} else {
		e.u8(metaNone)
		e.hash(hash.Zero)
	}
	e.len8(len(m.Imports))
	e.u8(m.Errors)
	e.len8(len(m.Data))
	e.len8(len(m.Sigs))
	e.len8(len(m.Funcs))
	e.len8(len(m.Impls))
	for _, h := range m.Imports {
		e.hash(h)
	}
	for i := range m.Data {
		e.data(&m.Data[i])
	}
	for i := range m.Sigs {
		e.sig(&m.Sigs[i])
	}
	for i := range m.Funcs {
		e.function(&m.Funcs[i])
	}
	for i := range m.Impls {
		e.impl(&m.Impls[i])
	}
	return e.err
}

// Encode returns the canonical encoding of m.
func (m *Module) Encode(depth int) ([]byte, error) { return codec.Encode(m, depth) }

// ParseModule decodes a module, rejecting trailing bytes.
func ParseModule(b []byte, depth int) (*Module, error) {
	d := &decoder{r: codec.NewReader(b, depth)}
	if err := d.magic(ModuleMagic); err != nil {
		return nil, err
	}
	m := &Module{}
	marker := d.enum("metadata marker", metaHash+1)
	meta := d.hash()
	switch {
	case d.err != nil:
	case marker == metaHash:
		m.Meta = &meta
	case !meta.IsZero():
		d.failf("metadata hash without marker")
	}
	nImports := d.len8()
	m.Errors = d.u8()
	nData, nSigs, nFuncs, nImpls := d.len8(), d.len8(), d.len8(), d.len8()
	if d.err != nil {
		return nil, d.err
	}
	if nImports > 0 {
		m.Imports = make([]hash.Hash, nImports)
		for i := range m.Imports {
			m.Imports[i] = d.hash()
		}
	}
	if nData > 0 {
		m.Data = make([]DataComponent, nData)
		for i := range m.Data {
			m.Data[i] = d.data()
		}
	}
	if nSigs > 0 {
		m.Sigs = make([]SigComponent, nSigs)
		for i := range m.Sigs {
			m.Sigs[i] = d.sig()
		}
	}
	if nFuncs > 0 {
		m.Funcs = make([]FunctionComponent, nFuncs)
		for i := range m.Funcs {
			m.Funcs[i] = d.function()
		}
	}
	if nImpls > 0 {
		m.Impls = make([]ImplComponent, nImpls)
		for i := range m.Impls {
			m.Impls[i] = d.impl()
		}
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// ModuleHash returns the content identity of an encoded module.
func ModuleHash(b []byte) hash.Hash { return hash.Sum(hash.DomainModule, b) }

// Serialize writes the canonical encoding of t.
func (t *Transaction) Serialize(w *codec.Writer) error {
	e := &encoder{w: w}
	e.u8(TransactionMagic)
	e.u8(Version)
	e.len8(len(t.Imports))
	for _, h := range t.Imports {
		e.hash(h)
	}
	e.function(&t.Func)
	return e.err
}

// Encode returns the canonical encoding of t.
func (t *Transaction) Encode(depth int) ([]byte, error) { return codec.Encode(t, depth) }

// ParseTransaction decodes a transaction, rejecting trailing bytes.
func ParseTransaction(b []byte, depth int) (*Transaction, error) {
	d := &decoder{r: codec.NewReader(b, depth)}
	if err := d.magic(TransactionMagic); err != nil {
		return nil, err
	}
	t := &Transaction{}
	if n := d.len8(); n > 0 && d.err == nil {
		t.Imports = make([]hash.Hash, n)
		for i := range t.Imports {
			t.Imports[i] = d.hash()
		}
	}
	t.Func = d.function()
	if err := d.done(); err != nil {
		return nil, err
	}
	return t, nil
}

// TransactionHash returns the content identity of an encoded transaction.
func TransactionHash(b []byte) hash.Hash { return hash.Sum(hash.DomainTransaction, b) }

// Classify reports the magic byte of an encoding, which tells modules and
// transactions apart.
func Classify(b []byte) (byte, error) {
	if len(b) == 0 {
		return 0, ErrEmpty
	}
	switch b[0] {
	case ModuleMagic, TransactionMagic:
		return b[0], nil
	}
	return 0, ErrBadMagic
}

func (d *decoder) magic(want byte) error {
	if d.u8() != want && d.err == nil {
		return ErrBadMagic
	}
	if d.u8() != Version && d.err == nil {
		return ErrBadVersion
	}
	return d.err
}
