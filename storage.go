package ledb

import (
	"strings"
	"sync/atomic"
)

// Storage is a handle onto one environment. Handles are cheap; each one
// holds a pool reference until Close.
type Storage struct {
	env    *Env
	closed atomic.Bool
}

func newStorage(env *Env) *Storage {
	return &Storage{env: env}
}

// Path returns the canonical path of the environment.
func (s *Storage) Path() string {
	return s.env.path
}

// Close releases this handle. The environment shuts down when the last
// handle into it closes. Cursors created from the storage must be closed
// first.
func (s *Storage) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.env.pool.release(s.env)
}

func (s *Storage) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// GetInfo reports environment configuration and engine counters.
func (s *Storage) GetInfo() (Info, error) {
	if err := s.check(); err != nil {
		return Info{}, err
	}
	return s.env.info(), nil
}

// GetStats reports aggregated B-tree statistics.
func (s *Storage) GetStats() (Stats, error) {
	if err := s.check(); err != nil {
		return Stats{}, err
	}
	return s.env.stats()
}

// HasCollection reports whether a collection has been persisted, which is
// defined by the presence of its primary sub-database.
func (s *Storage) HasCollection(name string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var found bool
	err := s.env.View(func(tx kvTx) error {
		found = tx.Bucket(name, dataSub) != nil
		return nil
	})
	return found, err
}

// Collection returns a handle onto the named collection, creating it on
// first reference unless the storage is read-only.
func (s *Storage) Collection(name string) (*Collection, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	coll := newCollection(s, name)
	if s.env.opts.ReadOnly {
		return coll, nil
	}
	err := s.env.Update(func(tx kvTx) error {
		if tx.Bucket(name, dataSub) != nil {
			return nil
		}
		if _, err := tx.CreateBucket(name, dataSub); err != nil {
			return err
		}
		_, err := tx.CreateBucket(name, metaSub)
		return err
	})
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// DropCollection removes a collection with all of its indexes. Reports
// whether the collection existed.
func (s *Storage) DropCollection(name string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var existed bool
	err := s.env.Update(func(tx kvTx) error {
		if tx.Bucket(name, dataSub) == nil {
			return nil
		}
		existed = true
		return tx.DeleteBucket(name, "")
	})
	return existed, err
}

// GetCollections lists the persisted collections.
func (s *Storage) GetCollections() ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var names []string
	err := s.env.View(func(tx kvTx) error {
		tx.Roots(func(name string) bool {
			if tx.Bucket(name, dataSub) != nil {
				names = append(names, name)
			}
			return true
		})
		return nil
	})
	return names, err
}

func validateCollectionName(name string) error {
	if name == "" {
		return schemaErrf(name, "", nil, "collection name must not be empty")
	}
	if strings.ContainsAny(name, "$\x00") {
		return schemaErrf(name, "", nil, "collection name must not contain '$' or NUL")
	}
	return nil
}
