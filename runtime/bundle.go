package runtime

import (
	"bytes"
	"fmt"

	"github.com/chazu/sanskrit/codec"
	"github.com/chazu/sanskrit/compiler"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
)

const (
	// BundleMagic starts every bundle encoding ('B').
	BundleMagic byte = 0x42
	// BundleVersion is the only bundle format version understood.
	BundleVersion byte = 1
)

// ErrBadBundle is returned for structurally invalid bundles.
var ErrBadBundle = errs.New(errs.Parse, "malformed bundle")

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// ParamKind selects where a transaction parameter comes from.
type ParamKind uint8

const (
	// ParamLoad reads a stored entry.
	ParamLoad ParamKind = iota
	// ParamLiteral decodes a value embedded in the bundle.
	ParamLiteral
	// ParamWitness decodes one of the bundle's witnesses.
	ParamWitness
	// ParamProvided is supplied by the executor.
	ParamProvided
	numParamKinds
)

func (k ParamKind) String() string {
	switch k {
	case ParamLoad:
		return "load"
	case ParamLiteral:
		return "literal"
	case ParamWitness:
		return "witness"
	case ParamProvided:
		return "provided"
	}
	return fmt.Sprintf("ParamKind(%d)", uint8(k))
}

// Provided names a value the executor knows about the running bundle.
type Provided uint8

const (
	// ProvideBundleHash is the bundle hash as Data.
	ProvideBundleHash Provided = iota
	// ProvideSection is the index of the running section.
	ProvideSection
	// ProvideTx is the index of the running transaction in its section.
	ProvideTx
	numProvided
)

// Param binds one entry parameter of a transaction.
type Param struct {
	Kind ParamKind
	// Key and Consume are used by ParamLoad. A consumed entry is deleted
	// when the section commits.
	Key     hash.Hash
	Consume bool
	// Literal is the value encoding of a ParamLiteral.
	Literal []byte
	// Witness indexes Bundle.Witnesses.
	Witness uint16
	// Provided is used by ParamProvided.
	Provided Provided
}

// Load binds the stored entry under key.
func Load(key hash.Hash, consume bool) Param {
	return Param{Kind: ParamLoad, Key: key, Consume: consume}
}

// Literal binds an encoded value.
func Literal(enc []byte) Param { return Param{Kind: ParamLiteral, Literal: enc} }

// Witness binds the witness at index i.
func Witness(i uint16) Param { return Param{Kind: ParamWitness, Witness: i} }

// Provide binds a value supplied by the executor.
func Provide(p Provided) Param { return Param{Kind: ParamProvided, Provided: p} }

// ReturnKind selects what happens to a returned value.
type ReturnKind uint8

const (
	// ReturnStore persists the value under a key.
	ReturnStore ReturnKind = iota
	// ReturnDrop discards the value.
	ReturnDrop
	// ReturnLog records the value in the section result.
	ReturnLog
	numReturnKinds
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnStore:
		return "store"
	case ReturnDrop:
		return "drop"
	case ReturnLog:
		return "log"
	}
	return fmt.Sprintf("ReturnKind(%d)", uint8(k))
}

// Return routes one entry result of a transaction.
type Return struct {
	Kind ReturnKind
	Key  hash.Hash
}

// Store routes a result into the entry under key.
func Store(key hash.Hash) Return { return Return{Kind: ReturnStore, Key: key} }

// Drop discards a result.
func Drop() Return { return Return{Kind: ReturnDrop} }

// LogReturn records a result in the section log.
func LogReturn() Return { return Return{Kind: ReturnLog} }

// Tx invokes one descriptor.
type Tx struct {
	Target  compiler.Target
	Params  []Param
	Returns []Return
}

// Section is a batch of transactions sharing a gas budget and a rollback
// boundary. A zero Gas takes the executor's default section budget.
type Section struct {
	Gas uint64
	Txs []Tx
}

// Bundle is an ordered list of sections plus the witnesses they refer to.
// Witnesses are not covered by the bundle hash.
type Bundle struct {
	Sections  []Section
	Witnesses [][]byte
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Serialize writes the canonical encoding of b.
func (b *Bundle) Serialize(w *codec.Writer) error {
	if err := b.serializeBody(w); err != nil {
		return err
	}
	if err := w.Len16(len(b.Witnesses)); err != nil {
		return err
	}
	for _, wit := range b.Witnesses {
		if err := w.Blob(wit); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bundle) serializeBody(w *codec.Writer) error {
	w.U8(BundleMagic)
	w.U8(BundleVersion)
	if err := w.Len8(len(b.Sections)); err != nil {
		return err
	}
	for i := range b.Sections {
		s := &b.Sections[i]
		w.U64(s.Gas)
		if err := w.Len16(len(s.Txs)); err != nil {
			return err
		}
		for j := range s.Txs {
			if err := serializeTx(w, &s.Txs[j]); err != nil {
				return fmt.Errorf("section %d tx %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func serializeTx(w *codec.Writer, tx *Tx) error {
	if tx.Target.IsTransaction() {
		w.U8(0)
		w.Hash(tx.Target.Transaction)
	} else {
		w.U8(1)
		w.Hash(tx.Target.Module)
		w.U8(tx.Target.Function)
	}
	if err := w.Len8(len(tx.Params)); err != nil {
		return err
	}
	for _, p := range tx.Params {
		w.U8(uint8(p.Kind))
		switch p.Kind {
		case ParamLoad:
			w.Hash(p.Key)
			w.Bool(p.Consume)
		case ParamLiteral:
			if err := w.Blob(p.Literal); err != nil {
				return err
			}
		case ParamWitness:
			w.U16(p.Witness)
		case ParamProvided:
			w.U8(uint8(p.Provided))
		default:
			return fmt.Errorf("%w: param kind %d", ErrBadBundle, p.Kind)
		}
	}
	if err := w.Len8(len(tx.Returns)); err != nil {
		return err
	}
	for _, r := range tx.Returns {
		w.U8(uint8(r.Kind))
		switch r.Kind {
		case ReturnStore:
			w.Hash(r.Key)
		case ReturnDrop, ReturnLog:
		default:
			return fmt.Errorf("%w: return kind %d", ErrBadBundle, r.Kind)
		}
	}
	return nil
}

// Encode returns the canonical encoding of b.
func (b *Bundle) Encode() ([]byte, error) { return codec.Encode(b, 0) }

// Hash returns the identity of b, which excludes the witnesses.
func (b *Bundle) Hash() (hash.Hash, error) {
	w := codec.NewWriter(0)
	if err := b.serializeBody(w); err != nil {
		return hash.Hash{}, err
	}
	return hash.Sum(hash.DomainBundle, w.Bytes()), nil
}

// ParseBundle decodes a bundle, rejecting trailing bytes.
func ParseBundle(data []byte) (*Bundle, error) {
	r := codec.NewReader(data, 0)
	magic, err := r.U8()
	if err != nil {
		return nil, err
	}
	if magic != BundleMagic {
		return nil, fmt.Errorf("%w: magic 0x%02x", ErrBadBundle, magic)
	}
	version, err := r.U8()
	if err != nil {
		return nil, err
	}
	if version != BundleVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadBundle, version)
	}

	n, err := r.Len8()
	if err != nil {
		return nil, err
	}
	b := &Bundle{Sections: make([]Section, n)}
	for i := range b.Sections {
		s := &b.Sections[i]
		if s.Gas, err = r.U64(); err != nil {
			return nil, err
		}
		m, err := r.Len16()
		if err != nil {
			return nil, err
		}
		s.Txs = make([]Tx, m)
		for j := range s.Txs {
			if err := parseTx(r, &s.Txs[j]); err != nil {
				return nil, fmt.Errorf("section %d tx %d: %w", i, j, err)
			}
		}
	}

	if n, err = r.Len16(); err != nil {
		return nil, err
	}
	if n > 0 {
		b.Witnesses = make([][]byte, n)
	}
	for i := range b.Witnesses {
		wit, err := r.Blob()
		if err != nil {
			return nil, err
		}
		b.Witnesses[i] = bytes.Clone(wit)
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return b, nil
}

func parseTx(r *codec.Reader, tx *Tx) error {
	kind, err := r.Enum("target kind", 2)
	if err != nil {
		return err
	}
	h, err := r.Hash()
	if err != nil {
		return err
	}
	if kind == 0 {
		tx.Target = compiler.TransactionTarget(h)
	} else {
		off, err := r.U8()
		if err != nil {
			return err
		}
		tx.Target = compiler.FunctionTarget(h, off)
	}

	n, err := r.Len8()
	if err != nil {
		return err
	}
	if n > 0 {
		tx.Params = make([]Param, n)
	}
	for i := range tx.Params {
		k, err := r.Enum("param kind", uint8(numParamKinds))
		if err != nil {
			return err
		}
		p := Param{Kind: ParamKind(k)}
		switch p.Kind {
		case ParamLoad:
			if p.Key, err = r.Hash(); err == nil {
				p.Consume, err = r.Bool()
			}
		case ParamLiteral:
			var lit []byte
			if lit, err = r.Blob(); err == nil {
				p.Literal = bytes.Clone(lit)
			}
		case ParamWitness:
			p.Witness, err = r.U16()
		case ParamProvided:
			var v uint8
			v, err = r.Enum("provided value", uint8(numProvided))
			p.Provided = Provided(v)
		}
		if err != nil {
			return err
		}
		tx.Params[i] = p
	}

	if n, err = r.Len8(); err != nil {
		return err
	}
	if n > 0 {
		tx.Returns = make([]Return, n)
	}
	for i := range tx.Returns {
		k, err := r.Enum("return kind", uint8(numReturnKinds))
		if err != nil {
			return err
		}
		ret := Return{Kind: ReturnKind(k)}
		if ret.Kind == ReturnStore {
			if ret.Key, err = r.Hash(); err != nil {
				return err
			}
		}
		tx.Returns[i] = ret
	}
	return nil
}
