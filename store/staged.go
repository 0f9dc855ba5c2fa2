package store

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/chazu/sanskrit/hash"
)

// ---------------------------------------------------------------------------
// Staged: pending writes over a backend
// ---------------------------------------------------------------------------

type pending struct {
	value   []byte
	deleted bool
}

// Staged implements Store by buffering writes per class until Commit.
type Staged struct {
	mu      sync.Mutex
	backend Backend
	pending [NumClasses]map[hash.Hash]pending
}

// NewStaged creates a store staging writes over backend.
func NewStaged(backend Backend) *Staged {
	s := &Staged{backend: backend}
	for i := range s.pending {
		s.pending[i] = make(map[hash.Hash]pending)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Staged) Backend() Backend { return s.backend }

// Contains checks pending writes first, then the backend.
func (s *Staged) Contains(c Class, key hash.Hash) (bool, error) {
	if err := checkClass(c); err != nil {
		return false, err
	}
	s.mu.Lock()
	p, ok := s.pending[c][key]
	s.mu.Unlock()
	if ok {
		return !p.deleted, nil
	}
	return s.backend.Has(c, key)
}

// Get reads the pending value if there is one, else the backend's.
func (s *Staged) Get(c Class, key hash.Hash, fn func([]byte) error) error {
	if err := checkClass(c); err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.pending[c][key]
	s.mu.Unlock()
	if ok {
		if p.deleted {
			return fmt.Errorf("%w: %s %s", ErrNotFound, c, key.Short())
		}
		return fn(p.value)
	}
	return s.backend.Get(c, key, fn)
}

// Set stages a write. val is copied.
func (s *Staged) Set(c Class, key hash.Hash, val []byte) error {
	if err := checkClass(c); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending[c][key] = pending{value: bytes.Clone(val)}
	s.mu.Unlock()
	return nil
}

// Delete stages a removal.
func (s *Staged) Delete(c Class, key hash.Hash) error {
	if err := checkClass(c); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending[c][key] = pending{deleted: true}
	s.mu.Unlock()
	return nil
}

// Pending returns the number of staged writes in class c.
func (s *Staged) Pending(c Class) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[c])
}

// Commit applies the pending writes of classes as one batch, in class then
// key order. On failure nothing is discarded so the caller can retry or
// roll back.
func (s *Staged) Commit(classes ...Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []Write
	for _, c := range classes {
		if err := checkClass(c); err != nil {
			return err
		}
		keys := make([]hash.Hash, 0, len(s.pending[c]))
		for k := range s.pending[c] {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, func(a, b hash.Hash) int { return bytes.Compare(a[:], b[:]) })
		for _, k := range keys {
			p := s.pending[c][k]
			batch = append(batch, Write{Class: c, Key: k, Value: p.value, Delete: p.deleted})
		}
	}
	if err := s.backend.Apply(batch); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	for _, c := range classes {
		clear(s.pending[c])
	}
	log.Debugf("committed %d writes", len(batch))
	return nil
}

// Rollback drops the pending writes of classes.
func (s *Staged) Rollback(classes ...Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range classes {
		if err := checkClass(c); err != nil {
			return err
		}
		n += len(s.pending[c])
		clear(s.pending[c])
	}
	log.Debugf("rolled back %d writes", n)
	return nil
}
