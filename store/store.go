// Package store is the key-value persistence layer of the runtime.
//
// Keys are 20-byte hashes grouped into classes. Writes are staged per class
// and become visible to the backend only on Commit, which applies them as a
// single atomic batch. Reads observe the caller's own pending writes.
package store

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/hash"
)

var log = commonlog.GetLogger("sanskrit.store")

// Class partitions the key space.
type Class uint8

const (
	ClassModule Class = iota
	ClassTransaction
	ClassDescriptor
	ClassEntryHash
	ClassEntryValue
	NumClasses
)

var classNames = [...]string{"module", "transaction", "descriptor", "entry-hash", "entry-value"}

func (c Class) String() string {
	if c < NumClasses {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// EntryClasses are the classes written by transaction execution.
var EntryClasses = []Class{ClassEntryHash, ClassEntryValue}

var (
	// ErrNotFound is returned by Get for absent keys.
	ErrNotFound = errors.New("store: not found")
	// ErrClass is returned for out-of-range classes.
	ErrClass = errors.New("store: unknown class")
	// ErrClosed is returned by backends after Close.
	ErrClosed = errors.New("store: closed")
)

// Store is the interface the validator, compiler and executor use.
type Store interface {
	Contains(c Class, key hash.Hash) (bool, error)
	// Get calls fn with the stored bytes. The slice is only valid during
	// the call.
	Get(c Class, key hash.Hash, fn func([]byte) error) error
	Set(c Class, key hash.Hash, val []byte) error
	Delete(c Class, key hash.Hash) error
	// Commit applies the pending writes of the given classes atomically.
	Commit(classes ...Class) error
	// Rollback discards the pending writes of the given classes.
	Rollback(classes ...Class) error
}

// Write is one entry of a committed batch. A nil Value with Delete set
// removes the key.
type Write struct {
	Class  Class
	Key    hash.Hash
	Value  []byte
	Delete bool
}

// Backend is durable storage that applies batches atomically.
type Backend interface {
	Has(c Class, key hash.Hash) (bool, error)
	Get(c Class, key hash.Hash, fn func([]byte) error) error
	Apply(batch []Write) error
	Close() error
}

func checkClass(c Class) error {
	if c >= NumClasses {
		return fmt.Errorf("%w %d", ErrClass, uint8(c))
	}
	return nil
}

// Load is a convenience wrapper returning a copy of the stored bytes.
func Load(s Store, c Class, key hash.Hash) ([]byte, error) {
	var out []byte
	err := s.Get(c, key, func(b []byte) error {
		out = append([]byte(nil), b...)
		return nil
	})
	return out, err
}
