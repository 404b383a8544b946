package cas

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/roach88/scanvault/internal/digest"
	"github.com/roach88/scanvault/internal/kv"
)

// Namespace is the key prefix owned by the CAS in the shared store.
const Namespace = "cas/"

// ErrNotFound is returned by Get for addresses with no stored entry.
var ErrNotFound = errors.New("cas: content not found")

// Store is the content-addressable store.
//
// Thread-safety: safe for concurrent use. Concurrent stores of the same
// content race only on PutIfAbsent, which the backing store resolves to a
// single entry.
type Store struct {
	kv     kv.Store
	alg    digest.Algorithm
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithAlgorithm selects the hash algorithm. Default: SHA-256.
// All addresses in one store must come from the same algorithm.
func WithAlgorithm(alg digest.Algorithm) Option {
	return func(s *Store) {
		if alg != nil {
			s.alg = alg
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a CAS over the "cas/" namespace of backing.
func New(backing kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     kv.WithPrefix(backing, Namespace),
		alg:    digest.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Algorithm returns the hash algorithm used for addresses.
func (s *Store) Algorithm() digest.Algorithm {
	return s.alg
}

// Store persists data and returns its address. Storing content that is
// already present returns the existing address without rewriting it.
func (s *Store) Store(ctx context.Context, data []byte) (Address, error) {
	addr := AddressOf(s.alg, data)

	inserted, err := s.kv.PutIfAbsent(ctx, string(addr), data)
	if err != nil {
		return "", fmt.Errorf("cas store: %w", err)
	}

	if inserted {
		s.logger.Debug("content stored", "address", addr, "size", len(data))
	} else {
		s.logger.Debug("content already present (dedup)", "address", addr)
	}
	return addr, nil
}

// Get returns the exact bytes stored under addr, or ErrNotFound.
func (s *Store) Get(ctx context.Context, addr Address) ([]byte, error) {
	if addr == "" {
		return nil, fmt.Errorf("cas get: %w: empty", ErrInvalidAddress)
	}
	data, err := s.kv.Get(ctx, string(addr))
	if kv.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cas get %s: %w", addr, err)
	}
	return data, nil
}

// Exists reports whether addr has a stored entry.
func (s *Store) Exists(ctx context.Context, addr Address) (bool, error) {
	if addr == "" {
		return false, nil
	}
	_, err := s.kv.ValueSize(ctx, string(addr))
	if kv.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cas exists %s: %w", addr, err)
	}
	return true, nil
}

// Delete removes the entry for addr. Returns true if something was removed.
func (s *Store) Delete(ctx context.Context, addr Address) (bool, error) {
	if addr == "" {
		return false, nil
	}
	removed, err := s.kv.Delete(ctx, string(addr))
	if err != nil {
		return false, fmt.Errorf("cas delete %s: %w", addr, err)
	}
	if removed {
		s.logger.Debug("content deleted", "address", addr)
	}
	return removed, nil
}

// AllHashes returns every stored address. The key set is captured when
// AllHashes is called; the returned sequence yields from that snapshot and
// is unaffected by later stores or deletes.
func (s *Store) AllHashes(ctx context.Context) (iter.Seq[Address], error) {
	keys, err := s.kv.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("cas list: %w", err)
	}
	return func(yield func(Address) bool) {
		for _, k := range keys {
			if !yield(Address(k)) {
				return
			}
		}
	}, nil
}

// Size returns the stored length of addr in bytes, or 0 if absent.
func (s *Store) Size(ctx context.Context, addr Address) (int64, error) {
	if addr == "" {
		return 0, nil
	}
	size, err := s.kv.ValueSize(ctx, string(addr))
	if kv.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cas size %s: %w", addr, err)
	}
	return size, nil
}

// TotalSize returns the sum of all stored entry sizes.
// Entries deleted between listing and sizing count as zero.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	hashes, err := s.AllHashes(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for addr := range hashes {
		size, err := s.Size(ctx, addr)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}
