package store

import (
	"fmt"
	"sync"

	"github.com/chazu/sanskrit/hash"
)

// ---------------------------------------------------------------------------
// Memory: in-process backend
// ---------------------------------------------------------------------------

// Memory is a Backend kept in maps. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	classes [NumClasses]map[hash.Hash][]byte
	closed  bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.classes {
		m.classes[i] = make(map[hash.Hash][]byte)
	}
	return m
}

// Has reports whether key is present in class c.
func (m *Memory) Has(c Class, key hash.Hash) (bool, error) {
	if err := checkClass(c); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.classes[c][key]
	return ok, nil
}

// Get calls fn with the stored value.
func (m *Memory) Get(c Class, key hash.Hash, fn func([]byte) error) error {
	if err := checkClass(c); err != nil {
		return err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	v, ok := m.classes[c][key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, c, key.Short())
	}
	// values are never mutated in place, so fn may run unlocked
	return fn(v)
}

// Apply writes a batch under a single lock.
func (m *Memory) Apply(batch []Write) error {
	for _, w := range batch {
		if err := checkClass(w.Class); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, w := range batch {
		if w.Delete {
			delete(m.classes[w.Class], w.Key)
			continue
		}
		m.classes[w.Class][w.Key] = append([]byte(nil), w.Value...)
	}
	return nil
}

// Len returns the number of keys stored in class c.
func (m *Memory) Len(c Class) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.classes[c])
}

// Keys returns the keys of class c.
func (m *Memory) Keys(c Class) []hash.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]hash.Hash, 0, len(m.classes[c]))
	for k := range m.classes[c] {
		keys = append(keys, k)
	}
	return keys
}

// Close marks the backend closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
