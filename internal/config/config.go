// Package config loads scanvault's YAML configuration.
//
// A file is decoded with yaml.v3, unified with the embedded CUE schema
// (which closes the structure, checks enums and ranges, and fills
// defaults), then decoded into Config. Every key is optional; an empty or
// missing file yields the defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/scanvault/internal/digest"
	"github.com/roach88/scanvault/internal/queue"
)

//go:embed schema.cue
var schemaSource string

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config is the resolved configuration.
type Config struct {
	Storage      Storage
	Hash         string
	Queue        Queue
	Connectivity Connectivity
	Cache        Cache
}

type Storage struct {
	Backend string
	Path    string
}

type Queue struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	JitterMin         float64
	JitterMax         float64
	MaxRetries        int
	Compression       string
	CompressThreshold int
}

type Connectivity struct {
	ProbeAddress  string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

type Cache struct {
	Enabled     bool
	MetadataTTL time.Duration
}

// fileConfig mirrors #Config for decoding out of CUE.
type fileConfig struct {
	Storage struct {
		Backend string `json:"backend"`
		Path    string `json:"path"`
	} `json:"storage"`
	Hash  string `json:"hash"`
	Queue struct {
		BaseDelay         string  `json:"base_delay"`
		MaxDelay          string  `json:"max_delay"`
		JitterMin         float64 `json:"jitter_min"`
		JitterMax         float64 `json:"jitter_max"`
		MaxRetries        int     `json:"max_retries"`
		Compression       string  `json:"compression"`
		CompressThreshold int     `json:"compress_threshold"`
	} `json:"queue"`
	Connectivity struct {
		ProbeAddress  string `json:"probe_address"`
		ProbeInterval string `json:"probe_interval"`
		ProbeTimeout  string `json:"probe_timeout"`
	} `json:"connectivity"`
	Cache struct {
		Enabled     bool   `json:"enabled"`
		MetadataTTL string `json:"metadata_ttl"`
	} `json:"cache"`
}

// Error reports an invalid configuration value.
type Error struct {
	Path    string // dotted key, empty when unknown
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" || strings.HasPrefix(e.Message, e.Path) {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema defaults are invalid: %v", err))
	}
	return cfg
}

// Load reads and resolves the file at path. An empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse resolves YAML config data against the schema.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, &Error{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var fc fileConfig
	if err := value.Decode(&fc); err != nil {
		return Config{}, formatCUEError(err)
	}
	return fc.resolve()
}

func (fc fileConfig) resolve() (Config, error) {
	cfg := Config{
		Storage: Storage{Backend: fc.Storage.Backend, Path: fc.Storage.Path},
		Hash:    fc.Hash,
		Queue: Queue{
			JitterMin:         fc.Queue.JitterMin,
			JitterMax:         fc.Queue.JitterMax,
			MaxRetries:        fc.Queue.MaxRetries,
			Compression:       fc.Queue.Compression,
			CompressThreshold: fc.Queue.CompressThreshold,
		},
		Connectivity: Connectivity{ProbeAddress: fc.Connectivity.ProbeAddress},
		Cache:        Cache{Enabled: fc.Cache.Enabled},
	}

	durations := []struct {
		path  string
		value string
		dst   *time.Duration
	}{
		{"queue.base_delay", fc.Queue.BaseDelay, &cfg.Queue.BaseDelay},
		{"queue.max_delay", fc.Queue.MaxDelay, &cfg.Queue.MaxDelay},
		{"connectivity.probe_interval", fc.Connectivity.ProbeInterval, &cfg.Connectivity.ProbeInterval},
		{"connectivity.probe_timeout", fc.Connectivity.ProbeTimeout, &cfg.Connectivity.ProbeTimeout},
		{"cache.metadata_ttl", fc.Cache.MetadataTTL, &cfg.Cache.MetadataTTL},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, &Error{Path: d.path, Message: err.Error()}
		}
		*d.dst = parsed
	}

	if err := cfg.QueuePolicy().Validate(); err != nil {
		return Config{}, &Error{Path: "queue", Message: err.Error()}
	}
	return cfg, nil
}

// QueuePolicy returns the retry policy described by the queue section.
func (c Config) QueuePolicy() queue.Policy {
	return queue.Policy{
		BaseDelay:         c.Queue.BaseDelay,
		MaxDelay:          c.Queue.MaxDelay,
		JitterMin:         c.Queue.JitterMin,
		JitterMax:         c.Queue.JitterMax,
		DefaultMaxRetries: c.Queue.MaxRetries,
	}
}

// Compression returns the configured queue payload compression.
func (c Config) Compression() (queue.Compression, error) {
	return queue.ParseCompression(c.Queue.Compression)
}

// Algorithm returns the configured content hash.
func (c Config) Algorithm() (digest.Algorithm, error) {
	return digest.ByName(c.Hash)
}

// MetadataTTL returns the vault metadata cache TTL, zero when disabled.
func (c Config) MetadataTTL() time.Duration {
	if !c.Cache.Enabled {
		return 0
	}
	return c.Cache.MetadataTTL
}

// formatCUEError reduces a CUE error to its first message and key path.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	return &Error{
		Path:    strings.Join(first.Path(), "."),
		Message: first.Error(),
	}
}

// IsConfigError reports whether err is (or wraps) a config *Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
