package compiler

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/chazu/sanskrit/hash"
)

// Cache serves descriptors from memory, then from the store, and compiles
// and stores them on a miss. Concurrent requests for the same target share
// one compilation.
type Cache struct {
	c     *Compiler
	group singleflight.Group

	mu    sync.RWMutex
	descs map[hash.Hash]*Descriptor
}

// NewCache creates a cache over c.
func NewCache(c *Compiler) *Cache {
	return &Cache{c: c, descs: make(map[hash.Hash]*Descriptor)}
}

// Compiler returns the underlying compiler.
func (ca *Cache) Compiler() *Compiler { return ca.c }

// Get returns the descriptor of t. Descriptors are immutable and shared
// between callers.
func (ca *Cache) Get(t Target) (*Descriptor, error) {
	key := t.Key()
	ca.mu.RLock()
	d, ok := ca.descs[key]
	ca.mu.RUnlock()
	if ok {
		return d, nil
	}

	v, err, shared := ca.group.Do(key.String(), func() (any, error) {
		d, ok, err := ca.c.Load(t)
		if err != nil {
			return nil, err
		}
		if !ok {
			if d, err = ca.c.Compile(t); err != nil {
				return nil, err
			}
			if err := ca.c.Store(t, d); err != nil {
				return nil, err
			}
		}
		ca.mu.Lock()
		ca.descs[key] = d
		ca.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debugf("shared compilation of %s", t)
	}
	return v.(*Descriptor), nil
}

// Forget drops t from memory; the stored descriptor is kept.
func (ca *Cache) Forget(t Target) {
	ca.mu.Lock()
	delete(ca.descs, t.Key())
	ca.mu.Unlock()
}

// Len returns the number of descriptors held in memory.
func (ca *Cache) Len() int {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return len(ca.descs)
}
