// Package linker resolves cross-module references.
//
// A Linker owns the process-wide link table (one Link per module hash) and
// the Interner. Module loading happens inside a Session, which carries the
// recursion stack used for cycle detection, so concurrent sessions never
// share mutable state beyond the append-only tables.
package linker

import (
	"errors"
	"slices"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/store"
	"github.com/chazu/sanskrit/value"
)

var log = commonlog.GetLogger("sanskrit.linker")

// Link is the fast handle of a loaded module.
type Link struct {
	Hash   hash.Hash
	Module *model.Module
	// System marks the built-in modules, which only declare errors.
	System bool
}

// Errors returns the number of errors the module declares.
func (l *Link) Errors() int {
	if l.System {
		if l.Hash == hash.SystemModule {
			return int(value.NumSysErrors)
		}
		return 0
	}
	return int(l.Module.Errors)
}

// OpenHandler validates and stores an open dependency the first time it is
// imported. It receives the session so that the dependency's own imports
// share the recursion stack.
type OpenHandler func(s *Session, h hash.Hash, b []byte) error

// Linker resolves module hashes to links.
type Linker struct {
	store  store.Store
	Types  *Interner
	depth  int
	onOpen OpenHandler

	mu    sync.RWMutex
	links map[hash.Hash]*Link

	openMu sync.Mutex
	open   map[hash.Hash][]byte

	scopes sync.Map // scopeKey -> *Scope
}

// New creates a linker reading modules from s. depth is the parse depth
// limit.
func New(s store.Store, depth int) *Linker {
	l := &Linker{
		store: s,
		Types: NewInterner(),
		depth: depth,
		links: make(map[hash.Hash]*Link),
		open:  make(map[hash.Hash][]byte),
	}
	for _, h := range []hash.Hash{hash.SystemModule, hash.IntModule} {
		l.links[h] = &Link{Hash: h, System: true, Module: &model.Module{}}
	}
	return l
}

// Store returns the backing store.
func (l *Linker) Store() store.Store { return l.store }

// Depth returns the parse depth limit.
func (l *Linker) Depth() int { return l.depth }

// SetOpenHandler installs the validator for open dependencies.
func (l *Linker) SetOpenHandler(h OpenHandler) { l.onOpen = h }

// AddOpen registers module bytes that may be imported without a prior
// deploy. It returns the module hash.
func (l *Linker) AddOpen(b []byte) hash.Hash {
	h := model.ModuleHash(b)
	l.openMu.Lock()
	l.open[h] = b
	l.openMu.Unlock()
	return h
}

func (l *Linker) openBytes(h hash.Hash) ([]byte, bool) {
	l.openMu.Lock()
	defer l.openMu.Unlock()
	b, ok := l.open[h]
	return b, ok
}

// dropOpen forgets an open dependency once it has been validated.
func (l *Linker) dropOpen(h hash.Hash) {
	l.openMu.Lock()
	delete(l.open, h)
	l.openMu.Unlock()
}

// Cached returns the link of h if it was already loaded.
func (l *Linker) Cached(h hash.Hash) (*Link, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	link, ok := l.links[h]
	return link, ok
}

// Register records a link for a module that was just validated. The first
// registration of a hash wins.
func (l *Linker) Register(h hash.Hash, m *model.Module) *Link {
	l.mu.Lock()
	defer l.mu.Unlock()
	if have, ok := l.links[h]; ok {
		return have
	}
	link := &Link{Hash: h, Module: m}
	l.links[h] = link
	return link
}

// Session starts a resolution session.
func (l *Linker) Session() *Session { return &Session{l: l} }

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session loads modules on behalf of one validation or compilation. It is
// not safe for concurrent use.
type Session struct {
	l       *Linker
	stack   []hash.Hash
	pending map[hash.Hash]*model.Module
}

// Linker returns the session's linker.
func (s *Session) Linker() *Linker { return s.l }

// Enter pushes h on the recursion stack. It fails with a cycle error if h is
// already being processed.
func (s *Session) Enter(h hash.Hash) error {
	if slices.Contains(s.stack, h) {
		return errs.Newf(errs.Cycle, "module %s depends on itself", h.Short())
	}
	s.stack = append(s.stack, h)
	return nil
}

// Leave pops the recursion stack.
func (s *Session) Leave() { s.stack = s.stack[:len(s.stack)-1] }

// Pending makes a module that is being validated visible to lookups by
// hash until Done is called.
func (s *Session) Pending(h hash.Hash, m *model.Module) {
	if s.pending == nil {
		s.pending = make(map[hash.Hash]*model.Module)
	}
	s.pending[h] = m
}

// Done removes a pending module.
func (s *Session) Done(h hash.Hash) { delete(s.pending, h) }

// Lookup returns the module of h, preferring pending modules.
func (s *Session) Lookup(h hash.Hash) (*model.Module, error) {
	if m, ok := s.pending[h]; ok {
		return m, nil
	}
	link, err := s.Module(h)
	if err != nil {
		return nil, err
	}
	return link.Module, nil
}

// Module returns the link of h, loading it from the store or from the open
// dependencies if needed.
func (s *Session) Module(h hash.Hash) (*Link, error) {
	if link, ok := s.l.Cached(h); ok {
		return link, nil
	}
	if err := s.Enter(h); err != nil {
		return nil, err
	}
	defer s.Leave()

	b, err := store.Load(s.l.store, store.ClassModule, h)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		open, ok := s.l.openBytes(h)
		if !ok || s.l.onOpen == nil {
			return nil, errs.Newf(errs.Integrity, "missing import %s", h.Short())
		}
		log.Debugf("validating open dependency %s", h.Short())
		if err := s.l.onOpen(s, h, open); err != nil {
			return nil, err
		}
		s.l.dropOpen(h)
		if link, ok := s.l.Cached(h); ok {
			return link, nil
		}
		b = open
	default:
		return nil, errs.Wrap(errs.Storage, err, "load module")
	}
	m, err := model.ParseModule(b, s.l.depth)
	if err != nil {
		return nil, err
	}
	return s.l.Register(h, m), nil
}
