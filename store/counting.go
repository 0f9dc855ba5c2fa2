package store

import (
	"sync/atomic"

	"github.com/chazu/sanskrit/hash"
)

// Stats are byte counters collected by Counting.
type Stats struct {
	Stored int64
	Loaded int64
}

// Counting wraps a Store and counts the bytes passing through Set and Get.
type Counting struct {
	Store
	stored atomic.Int64
	loaded atomic.Int64
}

// NewCounting wraps s.
func NewCounting(s Store) *Counting { return &Counting{Store: s} }

func (c *Counting) Get(cl Class, key hash.Hash, fn func([]byte) error) error {
	return c.Store.Get(cl, key, func(b []byte) error {
		c.loaded.Add(int64(len(b)))
		return fn(b)
	})
}

func (c *Counting) Set(cl Class, key hash.Hash, val []byte) error {
	if err := c.Store.Set(cl, key, val); err != nil {
		return err
	}
	c.stored.Add(int64(len(val)))
	return nil
}

// Stats returns the counters.
func (c *Counting) Stats() Stats {
	return Stats{Stored: c.stored.Load(), Loaded: c.loaded.Load()}
}

// Reset zeroes the counters and returns their previous values.
func (c *Counting) Reset() Stats {
	return Stats{Stored: c.stored.Swap(0), Loaded: c.loaded.Swap(0)}
}
