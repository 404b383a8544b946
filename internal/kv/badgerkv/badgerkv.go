// Package badgerkv is a kv.Store backed by Badger, a pure-Go LSM store.
// It is the alternative to the SQLite backend for builds without cgo.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/roach88/scanvault/internal/kv"
)

// maxConflictRetries bounds optimistic transaction retries on ErrConflict.
const maxConflictRetries = 16

// Store wraps a Badger database.
type Store struct {
	db     *badgerdb.DB
	closed atomic.Bool
}

var _ kv.Store = (*Store)(nil)

// Open opens (or creates) a Badger database in dir.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	return open(opts)
}

// OpenInMemory opens a Badger database that is never written to disk.
func OpenInMemory() (*Store, error) {
	opts := badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts)
}

func open(opts badgerdb.Options) (*Store, error) {
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), copyValue(value))
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// PutIfAbsent reads and writes in one transaction. A concurrent writer of
// the same key makes the commit fail with ErrConflict; the retry then sees
// the committed key and reports false.
func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		inserted := false
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			_, err := txn.Get([]byte(key))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
			inserted = true
			return txn.Set([]byte(key), copyValue(value))
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("put if absent %q: %w", key, err)
		}
		return inserted, nil
	}
	return false, fmt.Errorf("put if absent %q: %w", key, badgerdb.ErrConflict)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	removed := false
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	return removed, nil
}

// Keys iterates keys only (no value prefetch). Badger iterates in
// ascending byte order, which matches the kv.Store contract.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keys %q: %w", prefix, err)
	}
	return keys, nil
}

func (s *Store) ValueSize(ctx context.Context, key string) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	var size int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		// ValueSize is an estimate for values kept in the value log.
		return item.Value(func(v []byte) error {
			size = int64(len(v))
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, kv.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("value size %q: %w", key, err)
	}
	return size, nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return kv.ErrClosed
	}
	return ctx.Err()
}

// copyValue detaches value from the caller's buffer; Badger keeps the
// slice until the transaction commits.
func copyValue(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
