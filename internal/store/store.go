// Package store wraps an embedded bbolt database as a persistent key-value
// store with named subtrees, mirroring the "Persistent Index Store"
// capability the catalog is built on: named subtrees created on first
// access, byte-key/byte-value insert/get/iterate/drop, ordered iteration,
// enumeration of subtree names, and an explicit flush.
package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Store is a thin wrapper around a *bolt.DB. A "subtree" is a top-level
// bbolt bucket.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Flush durably persists any pending writes. bbolt commits each Update
// transaction synchronously, so Flush additionally forces an fsync of the
// data file to satisfy callers that want a hard durability point (e.g.
// after a full archive indexing pass).
func (s *Store) Flush() error {
	return s.db.Sync()
}

// Put writes key=value into the named subtree, creating the subtree if it
// does not already exist.
func (s *Store) Put(tree string, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(tree))
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

// Get reads a value from the named subtree. A missing subtree behaves as a
// missing key: (nil, false, nil).
func (s *Store) Get(tree string, key []byte) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(tree))
		if b == nil {
			return nil
		}
		v := b.Get(key)
		if v != nil {
			ok = true
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, ok, err
}

// Count returns the number of keys in the named subtree. Zero for a
// nonexistent subtree.
func (s *Store) Count(tree string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(tree))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Iterate walks the named subtree in key order, calling fn for each
// key/value pair. Iteration stops early if fn returns an error, which is
// then returned from Iterate.
func (s *Store) Iterate(tree string, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(tree))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Drop atomically removes the named subtree, if it exists.
func (s *Store) Drop(tree string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(tree))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Trees returns the names of every subtree currently present.
func (s *Store) Trees() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}
