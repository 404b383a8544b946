package vault

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/clock"
	"github.com/roach88/scanvault/internal/envelope"
)

// DefaultMetadataTTL is how long cached metadata projections live.
const DefaultMetadataTTL = 10 * time.Minute

// Outcome classifies a Retrieve result.
type Outcome int

const (
	NotFound Outcome = iota
	Found
	Tampered
)

func (o Outcome) String() string {
	switch o {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case Tampered:
		return "tampered"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Retrieval is the result of Retrieve. Content is set only for Found.
type Retrieval struct {
	Outcome Outcome
	Address cas.Address
	Content *envelope.SignedContent
}

// Vault is the storage adapter between signed envelopes and the CAS.
//
// Thread-safety: safe for concurrent use.
type Vault struct {
	store    *cas.Store
	verifier envelope.Verifier
	clock    clock.Clock
	logger   *slog.Logger
	cache    *metadataCache

	cacheEnabled bool
	cacheTTL     time.Duration
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock sets the clock used for write timestamps. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(v *Vault) {
		if c != nil {
			v.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetadataCache configures the in-memory metadata cache. A
// non-positive ttl disables it.
func WithMetadataCache(ttl time.Duration) Option {
	return func(v *Vault) {
		v.cacheEnabled = ttl > 0
		v.cacheTTL = ttl
	}
}

// New creates a Vault over store. Every Retrieve is checked with verifier.
func New(store *cas.Store, verifier envelope.Verifier, opts ...Option) (*Vault, error) {
	if store == nil {
		return nil, errors.New("vault: nil store")
	}
	if verifier == nil {
		return nil, errors.New("vault: nil verifier")
	}
	v := &Vault{
		store:        store,
		verifier:     verifier,
		clock:        clock.Real(),
		logger:       slog.Default(),
		cacheEnabled: true,
		cacheTTL:     DefaultMetadataTTL,
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.cacheEnabled {
		cfg := bigcache.DefaultConfig(v.cacheTTL)
		cfg.Shards = 64
		cfg.MaxEntriesInWindow = 4096
		cfg.MaxEntrySize = 256
		cfg.CleanWindow = v.cacheTTL / 2
		cfg.Verbose = false
		bc, err := bigcache.New(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("vault: create metadata cache: %w", err)
		}
		v.cache = &metadataCache{cache: bc, logger: v.logger}
	}
	return v, nil
}

// Close releases the metadata cache. The underlying CAS is not closed.
func (v *Vault) Close() error {
	return v.cache.close()
}

// Store serializes sc canonically and writes it to the CAS. The returned
// metadata carries the write time, not the envelope's own timestamp.
func (v *Vault) Store(ctx context.Context, sc *envelope.SignedContent) (Metadata, error) {
	if sc == nil {
		return Metadata{}, ErrNilContent
	}
	data, err := envelope.Marshal(sc)
	if err != nil {
		return Metadata{}, fmt.Errorf("vault store: %w", err)
	}
	addr, err := v.store.Store(ctx, data)
	if err != nil {
		return Metadata{}, fmt.Errorf("vault store: %w", err)
	}

	v.logger.Debug("signed content stored",
		"address", addr,
		"algorithm", sc.Algorithm,
		"size", len(data))
	return newMetadata(addr, int64(len(data)), sc, v.clock.Now()), nil
}

// Retrieve fetches, decodes, and verifies the envelope at addr.
//
// A Tampered outcome is always accompanied by a *VerificationError.
func (v *Vault) Retrieve(ctx context.Context, addr cas.Address) (Retrieval, error) {
	if addr == "" {
		return Retrieval{}, ErrEmptyAddress
	}
	data, err := v.store.Get(ctx, addr)
	if errors.Is(err, cas.ErrNotFound) {
		return Retrieval{Outcome: NotFound, Address: addr}, nil
	}
	if err != nil {
		return Retrieval{}, fmt.Errorf("vault retrieve: %w", err)
	}

	sc, err := envelope.Unmarshal(data)
	if err != nil {
		return v.tampered(addr, err)
	}

	ok, err := v.verifier.Verify(ctx, sc)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Retrieval{}, fmt.Errorf("vault retrieve: %w", ctxErr)
	}
	if err != nil {
		return v.tampered(addr, err)
	}
	if !ok {
		return v.tampered(addr, ErrSignatureMismatch)
	}
	return Retrieval{Outcome: Found, Address: addr, Content: sc}, nil
}

func (v *Vault) tampered(addr cas.Address, cause error) (Retrieval, error) {
	v.logger.Error("stored content failed verification", "address", addr, "error", cause)
	return Retrieval{Outcome: Tampered, Address: addr}, &VerificationError{Address: addr, Err: cause}
}

// Metadata returns the projection of the envelope at addr, or nil if
// nothing is stored there. The signature is not verified.
func (v *Vault) Metadata(ctx context.Context, addr cas.Address) (*Metadata, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	exists, err := v.store.Exists(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("vault metadata: %w", err)
	}
	if !exists {
		return nil, nil
	}
	if md, ok := v.cache.get(addr); ok {
		return &md, nil
	}

	data, err := v.store.Get(ctx, addr)
	if errors.Is(err, cas.ErrNotFound) {
		// deleted between the existence check and the read
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault metadata: %w", err)
	}
	sc, err := envelope.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("vault metadata %s: %w", addr, err)
	}

	md := newMetadata(addr, int64(len(data)), sc, sc.Timestamp)
	v.cache.put(md)
	return &md, nil
}

// Delete removes the envelope at addr. Returns true if something was
// removed.
func (v *Vault) Delete(ctx context.Context, addr cas.Address) (bool, error) {
	if addr == "" {
		return false, ErrEmptyAddress
	}
	v.cache.invalidate(addr)
	removed, err := v.store.Delete(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("vault delete: %w", err)
	}
	return removed, nil
}

// List returns metadata for every stored envelope, newest first by
// envelope timestamp, ties broken by address. Entries that cannot be
// decoded are logged and skipped; Retrieve reports them as tampered.
func (v *Vault) List(ctx context.Context) (iter.Seq[Metadata], error) {
	hashes, err := v.store.AllHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault list: %w", err)
	}

	var all []Metadata
	for addr := range hashes {
		md, err := v.Metadata(ctx, addr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("vault list: %w", ctxErr)
			}
			if errors.Is(err, envelope.ErrMalformed) || errors.Is(err, envelope.ErrUnsupportedVersion) {
				v.logger.Warn("skipping undecodable entry", "address", addr, "error", err)
				continue
			}
			return nil, fmt.Errorf("vault list: %w", err)
		}
		if md == nil {
			continue
		}
		all = append(all, *md)
	}

	slices.SortFunc(all, func(a, b Metadata) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})

	return slices.Values(all), nil
}
