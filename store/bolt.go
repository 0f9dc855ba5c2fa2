package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/chazu/sanskrit/hash"
)

// ---------------------------------------------------------------------------
// Bolt: on-disk backend
// ---------------------------------------------------------------------------

// Bolt is a Backend over a bbolt database with one bucket per class.
type Bolt struct {
	db      *bolt.DB
	buckets [NumClasses][]byte
}

// OpenBolt opens (creating if needed) the database at path. Bucket names
// are prefix followed by the class name.
func OpenBolt(path, prefix string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	b := &Bolt{db: db}
	for c := Class(0); c < NumClasses; c++ {
		b.buckets[c] = []byte(prefix + c.String())
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range b.buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	log.Infof("opened bolt store %s", path)
	return b, nil
}

// Has reports whether key is present in class c.
func (b *Bolt) Has(c Class, key hash.Hash) (bool, error) {
	if err := checkClass(c); err != nil {
		return false, err
	}
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(b.buckets[c]).Get(key[:]) != nil
		return nil
	})
	return ok, err
}

// Get calls fn inside a read transaction.
func (b *Bolt) Get(c Class, key hash.Hash, fn func([]byte) error) error {
	if err := checkClass(c); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.buckets[c]).Get(key[:])
		if v == nil {
			return fmt.Errorf("%w: %s %s", ErrNotFound, c, key.Short())
		}
		return fn(v)
	})
}

// Apply writes the batch in one bbolt update.
func (b *Bolt) Apply(batch []Write) error {
	if len(batch) == 0 {
		return nil
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, w := range batch {
			if err := checkClass(w.Class); err != nil {
				return err
			}
			bk := tx.Bucket(b.buckets[w.Class])
			var err error
			if w.Delete {
				err = bk.Delete(w.Key[:])
			} else {
				err = bk.Put(w.Key[:], w.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (b *Bolt) Close() error { return b.db.Close() }
