// Package deploy accepts modules and transactions into the store after
// validating them.
package deploy

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/checker"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/externals"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/store"
)

var log = commonlog.GetLogger("sanskrit.deploy")

// Kind tells what a deployed input was.
type Kind uint8

const (
	KindModule Kind = iota
	KindTransaction
)

func (k Kind) String() string {
	if k == KindTransaction {
		return "transaction"
	}
	return "module"
}

// Result describes one deployment.
type Result struct {
	Kind Kind
	Hash hash.Hash
	// Existed is set when the input was already stored; deployment is then
	// a no-op.
	Existed bool
}

// Deployer validates inputs against the linker's view of the store and
// stores the accepted ones.
type Deployer struct {
	store  store.Store
	linker *linker.Linker
	reg    *externals.Registry
}

// New creates a deployer over l. It installs itself as l's handler for
// open dependencies.
func New(l *linker.Linker, reg *externals.Registry) *Deployer {
	if reg == nil {
		reg = externals.Default()
	}
	d := &Deployer{store: l.Store(), linker: l, reg: reg}
	l.SetOpenHandler(d.openDependency)
	return d
}

// Linker returns the underlying linker.
func (d *Deployer) Linker() *linker.Linker { return d.linker }

// AddOpenDependency registers module bytes that are validated and stored
// the first time another input imports them.
func (d *Deployer) AddOpenDependency(b []byte) hash.Hash {
	h := d.linker.AddOpen(b)
	log.Debugf("open dependency %s (%d bytes)", h.Short(), len(b))
	return h
}

// Deploy classifies b by its magic byte and deploys it.
func (d *Deployer) Deploy(b []byte, system bool) (Result, error) {
	magic, err := model.Classify(b)
	if err != nil {
		return Result{}, err
	}
	if magic == model.TransactionMagic {
		return d.DeployTransaction(b, system)
	}
	return d.DeployModule(b, system)
}

// DeployModule validates and stores module bytes. System mode permits
// Primitive data types.
func (d *Deployer) DeployModule(b []byte, system bool) (Result, error) {
	res := Result{Kind: KindModule, Hash: model.ModuleHash(b)}
	have, err := d.store.Contains(store.ClassModule, res.Hash)
	if err != nil {
		return res, errs.Wrap(errs.Storage, err, "lookup module")
	}
	if have {
		log.Debugf("module %s already deployed", res.Hash.Short())
		res.Existed = true
		return res, nil
	}
	s := d.linker.Session()
	if err := s.Enter(res.Hash); err != nil {
		return res, err
	}
	defer s.Leave()
	return res, d.module(s, res.Hash, b, system)
}

func (d *Deployer) module(s *linker.Session, h hash.Hash, b []byte, system bool) error {
	m, err := model.ParseModule(b, d.linker.Depth())
	if err != nil {
		return err
	}
	if err := checker.New(s, d.reg, system).ValidateModule(h, m); err != nil {
		return err
	}
	if err := d.store.Set(store.ClassModule, h, b); err != nil {
		return errs.Wrap(errs.Storage, err, "store module")
	}
	if err := d.store.Commit(store.ClassModule); err != nil {
		return errs.Wrap(errs.Storage, err, "commit module")
	}
	d.linker.Register(h, m)
	log.Infof("deployed module %s (%d bytes)", h.Short(), len(b))
	return nil
}

func (d *Deployer) openDependency(s *linker.Session, h hash.Hash, b []byte) error {
	if got := model.ModuleHash(b); got != h {
		return errs.Newf(errs.Integrity, "open dependency hashes to %s, expected %s", got.Short(), h.Short())
	}
	return d.module(s, h, b, false)
}

// DeployTransaction validates and stores transaction bytes.
func (d *Deployer) DeployTransaction(b []byte, system bool) (Result, error) {
	res := Result{Kind: KindTransaction, Hash: model.TransactionHash(b)}
	have, err := d.store.Contains(store.ClassTransaction, res.Hash)
	if err != nil {
		return res, errs.Wrap(errs.Storage, err, "lookup transaction")
	}
	if have {
		res.Existed = true
		return res, nil
	}
	tx, err := model.ParseTransaction(b, d.linker.Depth())
	if err != nil {
		return res, err
	}
	if err := checker.New(d.linker.Session(), d.reg, system).ValidateTransaction(tx); err != nil {
		return res, err
	}
	if err := d.store.Set(store.ClassTransaction, res.Hash, b); err != nil {
		return res, errs.Wrap(errs.Storage, err, "store transaction")
	}
	if err := d.store.Commit(store.ClassTransaction); err != nil {
		return res, errs.Wrap(errs.Storage, err, "commit transaction")
	}
	log.Infof("deployed transaction %s (%d bytes)", res.Hash.Short(), len(b))
	return res, nil
}
