// Package runtime executes transaction bundles.
//
// A bundle is an ordered list of sections. Each section has its own gas
// budget and is the unit of rollback: its transactions run in order
// against a staged view of the entry store, and either every write of the
// section is committed or none is. A failing transaction aborts the rest
// of its section. Later sections still run.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/compiler"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/externals"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/store"
	"github.com/chazu/sanskrit/value"
	"github.com/chazu/sanskrit/vm"
)

var log = commonlog.GetLogger("sanskrit.runtime")

var (
	// ErrEntryExists is returned when a result is stored over a live entry.
	ErrEntryExists = errs.New(errs.Integrity, "entry already exists")
	// ErrEntryType is returned when a loaded entry has another type than
	// the parameter it is bound to.
	ErrEntryType = errs.New(errs.Integrity, "entry type mismatch")
)

// Options configure an Executor. Zero values select defaults.
type Options struct {
	Limits   vm.Limits
	Registry *externals.Registry
	// Depth bounds the nesting of decoded parameter values.
	Depth int
	// SectionGas is the budget of sections that declare none.
	SectionGas uint64
	Metrics    *Metrics
}

// Executor runs bundles against an entry store. Descriptors come from a
// shared cache; each Execute call stages its writes separately, so one
// Executor can run independent bundles concurrently.
type Executor struct {
	cache   *compiler.Cache
	backend store.Backend
	opts    Options
}

// NewExecutor creates an executor whose entries live in backend.
func NewExecutor(cache *compiler.Cache, backend store.Backend, opts Options) *Executor {
	return &Executor{cache: cache, backend: backend, opts: opts}
}

// Log is a value routed to ReturnLog.
type Log struct {
	Tx    int
	Type  hash.Hash
	Value []byte
}

// SectionResult is the outcome of one section.
type SectionResult struct {
	Committed bool
	GasUsed   uint64
	// Txs is the number of transactions that completed.
	Txs  int
	Logs []Log
	// Err is the failure that aborted the section.
	Err error
}

// BundleResult collects the section outcomes of a bundle.
type BundleResult struct {
	Hash     hash.Hash
	Sections []SectionResult
}

// Committed reports whether every section committed.
func (r *BundleResult) Committed() bool {
	for i := range r.Sections {
		if !r.Sections[i].Committed {
			return false
		}
	}
	return true
}

// Execute runs b. Section failures are reported in the result; the error
// return is for failures outside any section, such as cancellation.
func (e *Executor) Execute(ctx context.Context, b *Bundle) (*BundleResult, error) {
	h, err := b.Hash()
	if err != nil {
		return nil, err
	}
	x := &execution{
		Executor: e,
		bundle:   b,
		hash:     h,
		st:       store.NewStaged(e.backend),
		vm:       vm.New(e.opts.Limits, e.opts.Registry),
	}
	res := &BundleResult{Hash: h, Sections: make([]SectionResult, 0, len(b.Sections))}
	for i := range b.Sections {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r := x.section(i)
		e.opts.Metrics.section(&r)
		res.Sections = append(res.Sections, r)
	}
	e.opts.Metrics.bundle()
	log.Infof("bundle %s: %d sections", h.Short(), len(res.Sections))
	return res, nil
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

type execution struct {
	*Executor
	bundle *Bundle
	hash   hash.Hash
	st     *store.Staged
	vm     *vm.VM
}

func (x *execution) section(si int) SectionResult {
	s := &x.bundle.Sections[si]
	budget := s.Gas
	if budget == 0 {
		budget = x.opts.SectionGas
	}
	var res SectionResult
	for ti := range s.Txs {
		used, logs, err := x.tx(si, ti, &s.Txs[ti], budget-res.GasUsed)
		res.GasUsed += used
		x.vm.Reset()
		if err != nil {
			res.Err = fmt.Errorf("tx %d: %w", ti, err)
			x.abort(si, &res)
			return res
		}
		res.Txs++
		res.Logs = append(res.Logs, logs...)
	}
	if err := x.st.Commit(store.EntryClasses...); err != nil {
		res.Err = errs.Wrap(errs.Storage, err, "commit section")
		x.abort(si, &res)
		return res
	}
	res.Committed = true
	log.Debugf("section %d committed: %d txs, %d gas", si, res.Txs, res.GasUsed)
	return res
}

func (x *execution) abort(si int, res *SectionResult) {
	res.Logs = nil
	x.vm.Reset()
	if err := x.st.Rollback(store.EntryClasses...); err != nil {
		log.Errorf("section %d: rollback: %s", si, err)
	}
	log.Infof("section %d aborted after %d gas: %s", si, res.GasUsed, res.Err)
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// tx runs one transaction with the remaining section budget and applies
// its effects to the staged store.
func (x *execution) tx(si, ti int, tx *Tx, budget uint64) (uint64, []Log, error) {
	d, err := x.cache.Get(tx.Target)
	if err != nil {
		return 0, nil, err
	}
	if len(tx.Params) != len(d.Params) {
		return 0, nil, errs.Newf(errs.Integrity, "%s takes %d parameters, bound %d", tx.Target, len(d.Params), len(tx.Params))
	}
	if len(tx.Returns) != len(d.Returns) {
		return 0, nil, errs.Newf(errs.Integrity, "%s returns %d values, routed %d", tx.Target, len(d.Returns), len(tx.Returns))
	}
	for i, r := range tx.Returns {
		if err := checkReturn(r, &d.Returns[i]); err != nil {
			return 0, nil, fmt.Errorf("return %d: %w", i, err)
		}
	}
	if d.MaxGas > budget {
		return 0, nil, errs.Newf(errs.OutOfGas, "%s needs up to %d gas, %d left", tx.Target, d.MaxGas, budget)
	}

	if err := checkLoads(tx.Params); err != nil {
		return 0, nil, err
	}

	args := make([]value.Value, len(tx.Params))
	for i := range tx.Params {
		if args[i], err = x.bind(si, ti, &tx.Params[i], &d.Params[i]); err != nil {
			return 0, nil, fmt.Errorf("param %d: %w", i, err)
		}
	}

	res, err := x.vm.Run(d, args, budget)
	if err != nil {
		return res.GasUsed, nil, err
	}

	for _, p := range tx.Params {
		if p.Kind == ParamLoad && p.Consume {
			for _, c := range store.EntryClasses {
				if err := x.st.Delete(c, p.Key); err != nil {
					return res.GasUsed, nil, errs.Wrap(errs.Storage, err, "delete entry")
				}
			}
		}
	}
	var logs []Log
	for i, r := range tx.Returns {
		ret := &d.Returns[i]
		switch r.Kind {
		case ReturnStore:
			if err := x.put(r.Key, ret.TypeHash, res.Returns[i]); err != nil {
				return res.GasUsed, nil, fmt.Errorf("return %d: %w", i, err)
			}
		case ReturnLog:
			enc, err := value.Encode(res.Returns[i], x.opts.Depth)
			if err != nil {
				return res.GasUsed, nil, fmt.Errorf("return %d: %w", i, err)
			}
			logs = append(logs, Log{Tx: ti, Type: ret.TypeHash, Value: enc})
		}
	}
	return res.GasUsed, logs, nil
}

// checkLoads rejects a consumed entry that is bound more than once.
func checkLoads(ps []Param) error {
	seen := make(map[hash.Hash]int)
	consumed := make(map[hash.Hash]bool)
	for _, p := range ps {
		if p.Kind == ParamLoad {
			seen[p.Key]++
			consumed[p.Key] = consumed[p.Key] || p.Consume
		}
	}
	for k, n := range seen {
		if n > 1 && consumed[k] {
			return errs.Newf(errs.Linearity, "consumed entry %s bound %d times", k.Short(), n)
		}
	}
	return nil
}

func checkReturn(r Return, p *compiler.Param) error {
	var need capability.Cap
	switch r.Kind {
	case ReturnStore:
		need = capability.Persist
	case ReturnDrop:
		need = capability.Drop
	case ReturnLog:
		need = capability.Value
	default:
		return fmt.Errorf("%w: return kind %d", ErrBadBundle, r.Kind)
	}
	if !p.Caps.Contains(need) {
		return errs.Newf(errs.Capability, "%s route needs %s, type has %s", r.Kind, need, p.Caps)
	}
	return nil
}

// bind produces the argument for one entry parameter in the VM's arenas.
func (x *execution) bind(si, ti int, p *Param, want *compiler.Param) (value.Value, error) {
	var (
		v   value.Value
		err error
	)
	switch p.Kind {
	case ParamLoad:
		v, err = x.load(p, want)
	case ParamLiteral, ParamWitness:
		if !want.Caps.Contains(capability.Value) {
			return value.Value{}, errs.Newf(errs.Capability, "%s parameter needs Value, type has %s", p.Kind, want.Caps)
		}
		enc := p.Literal
		if p.Kind == ParamWitness {
			if int(p.Witness) >= len(x.bundle.Witnesses) {
				return value.Value{}, errs.Newf(errs.Integrity, "witness %d out of range", p.Witness)
			}
			enc = x.bundle.Witnesses[p.Witness]
		}
		v, err = value.Decode(enc, x.opts.Depth, x.vm.Alloc())
	case ParamProvided:
		v, err = x.provide(si, ti, p.Provided, want.Schema)
	default:
		return value.Value{}, fmt.Errorf("%w: param kind %d", ErrBadBundle, p.Kind)
	}
	if err != nil {
		return value.Value{}, err
	}
	if err := want.Schema.Conforms(v); err != nil {
		return value.Value{}, err
	}
	return v, nil
}

func (x *execution) load(p *Param, want *compiler.Param) (value.Value, error) {
	switch {
	case p.Consume && !want.Consume:
		return value.Value{}, errs.New(errs.Capability, "borrowed parameter cannot consume an entry")
	case !p.Consume && want.Consume && !want.Caps.Contains(capability.Copy):
		return value.Value{}, errs.Newf(errs.Capability, "consuming a kept entry needs Copy, type has %s", want.Caps)
	}
	typ, err := x.fetch(store.ClassEntryHash, p.Key)
	if err != nil {
		return value.Value{}, err
	}
	if hash.Hash(typ) != want.TypeHash {
		return value.Value{}, fmt.Errorf("%w: entry %s", ErrEntryType, p.Key.Short())
	}
	enc, err := x.fetch(store.ClassEntryValue, p.Key)
	if err != nil {
		return value.Value{}, err
	}
	return value.Decode(enc, x.opts.Depth, x.vm.Alloc())
}

func (x *execution) fetch(c store.Class, key hash.Hash) ([]byte, error) {
	b, err := store.Load(x.st, c, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, errs.Newf(errs.Integrity, "no entry %s", key.Short())
	case err != nil:
		return nil, errs.Wrap(errs.Storage, err, "load entry")
	case c == store.ClassEntryHash && len(b) != hash.Size:
		return nil, errs.Newf(errs.Integrity, "entry %s has a corrupt type", key.Short())
	}
	return b, nil
}

func (x *execution) put(key, typ hash.Hash, v value.Value) error {
	ok, err := x.st.Contains(store.ClassEntryValue, key)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "probe entry")
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrEntryExists, key.Short())
	}
	enc, err := value.Encode(v, x.opts.Depth)
	if err != nil {
		return err
	}
	if err := x.st.Set(store.ClassEntryHash, key, typ[:]); err != nil {
		return errs.Wrap(errs.Storage, err, "store entry")
	}
	if err := x.st.Set(store.ClassEntryValue, key, enc); err != nil {
		return errs.Wrap(errs.Storage, err, "store entry")
	}
	return nil
}

func (x *execution) provide(si, ti int, p Provided, s *value.Schema) (value.Value, error) {
	var idx int
	switch p {
	case ProvideBundleHash:
		return x.vm.Alloc().Data(x.hash[:])
	case ProvideSection:
		idx = si
	case ProvideTx:
		idx = ti
	default:
		return value.Value{}, fmt.Errorf("%w: provided value %d", ErrBadBundle, p)
	}
	if s.Kind != value.SchemaInt {
		return value.Value{}, errs.New(errs.Integrity, "provided index needs an integer parameter")
	}
	v := value.Uint(s.Int, uint64(idx))
	if v.BigInt().Cmp(big.NewInt(int64(idx))) != 0 {
		return value.Value{}, errs.Newf(errs.Integrity, "index %d does not fit %s", idx, s.Int)
	}
	return v, nil
}
