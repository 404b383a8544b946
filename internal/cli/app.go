package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/config"
	"github.com/roach88/scanvault/internal/envelope"
	"github.com/roach88/scanvault/internal/events"
	"github.com/roach88/scanvault/internal/kv"
	"github.com/roach88/scanvault/internal/kv/badgerkv"
	"github.com/roach88/scanvault/internal/queue"
	"github.com/roach88/scanvault/internal/store"
	"github.com/roach88/scanvault/internal/vault"
)

// app is the set of components a command works with, all sharing one
// backing store.
type app struct {
	cfg     config.Config
	backing kv.Store
	bus     *events.Bus
	cas     *cas.Store
	vault   *vault.Vault
	queue   *queue.Queue
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Backend != "" {
		cfg.Storage.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.Storage.Path = opts.Database
	}
	return cfg, nil
}

// openApp loads configuration and opens the configured backend. The
// caller must Close the returned app. Failures are reported through
// formatter and returned as ExitErrors.
func openApp(opts *RootOptions, formatter *OutputFormatter) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	alg, err := cfg.Algorithm()
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	compression, err := cfg.Compression()
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	slog.Debug("opening storage", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)
	backing, err := openBackend(cfg.Storage)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to open storage", err)
	}

	logger := slog.Default()
	casStore := cas.New(backing, cas.WithAlgorithm(alg), cas.WithLogger(logger))
	v, err := vault.New(casStore, envelope.NewSignatureVerifier(),
		vault.WithMetadataCache(cfg.MetadataTTL()),
		vault.WithLogger(logger))
	if err != nil {
		backing.Close()
		return nil, formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to open vault", err)
	}

	bus := events.NewBus()
	registry := queue.NewRegistry()
	registry.Register(OpVaultStore, vaultStoreHandler(v))
	q := queue.New(backing, registry,
		queue.WithPolicy(cfg.QueuePolicy()),
		queue.WithBus(bus),
		queue.WithCompression(compression, cfg.Queue.CompressThreshold),
		queue.WithLogger(logger))

	return &app{
		cfg:     cfg,
		backing: backing,
		bus:     bus,
		cas:     casStore,
		vault:   v,
		queue:   q,
	}, nil
}

// openBackend opens the kv.Store selected by s.
func openBackend(s config.Storage) (kv.Store, error) {
	switch s.Backend {
	case config.BackendSQLite:
		st, err := store.Open(s.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendBadger:
		st, err := badgerkv.Open(s.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendMemory:
		return kv.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}

// Close releases the vault cache and the backing store.
func (a *app) Close() error {
	return errors.Join(a.vault.Close(), a.backing.Close())
}

// closeApp closes a and logs any error; for use in defer.
func closeApp(a *app) {
	if err := a.Close(); err != nil {
		slog.Error("error closing storage", "error", err)
	}
}
