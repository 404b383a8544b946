// Package kv defines the durable key/value contract shared by the CAS and
// the offline queue.
//
// Both components live in the same physical store under different key
// prefixes (see WithPrefix). Each prefix has exactly one owning component;
// nothing writes into another component's namespace.
//
// Implementations:
//   - internal/store: SQLite (default, durable)
//   - internal/kv/badgerkv: Badger (durable, pure Go)
//   - NewMemory: in-process map for tests and ephemeral sessions
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get and ValueSize for absent keys.
	ErrNotFound = errors.New("kv: key not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("kv: store closed")
)

// Store is a durable byte-oriented key/value store.
//
// Put MUST be an upsert keyed by key: writing an existing key replaces its
// value and never produces a second record. The offline queue relies on
// this when it rewrites an operation after a failed attempt.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// PutIfAbsent stores value only if key does not exist yet.
	// Returns true if the value was written.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes key. Returns true if something was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys returns every key with the given prefix in ascending byte order.
	// The result is a snapshot; later writes do not affect it.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// ValueSize returns the length in bytes of the value under key,
	// or ErrNotFound.
	ValueSize(ctx context.Context, key string) (int64, error)

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
