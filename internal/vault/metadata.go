package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/codec"
	"github.com/roach88/scanvault/internal/envelope"
)

// Metadata describes a stored envelope without its content.
type Metadata struct {
	Address         cas.Address `cbor:"address" json:"address"`
	Size            int64       `cbor:"size" json:"size"`
	Algorithm       string      `cbor:"algorithm" json:"algorithm"`
	Version         string      `cbor:"version" json:"version"`
	PublicKeyBase64 string      `cbor:"public_key" json:"publicKeyBase64"`
	Timestamp       time.Time   `cbor:"timestamp" json:"timestamp"`
}

func newMetadata(addr cas.Address, size int64, sc *envelope.SignedContent, ts time.Time) Metadata {
	return Metadata{
		Address:         addr,
		Size:            size,
		Algorithm:       sc.Algorithm,
		Version:         sc.Version,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(sc.PublicKey),
		Timestamp:       ts.UTC(),
	}
}

// metadataCache holds CBOR-encoded Metadata keyed by address.
// A nil cache is valid and caches nothing.
type metadataCache struct {
	cache  *bigcache.BigCache
	logger *slog.Logger
}

func (c *metadataCache) get(addr cas.Address) (Metadata, bool) {
	if c == nil {
		return Metadata{}, false
	}
	raw, err := c.cache.Get(string(addr))
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.logger.Warn("metadata cache read failed", "address", addr, "error", err)
		}
		return Metadata{}, false
	}
	var md Metadata
	if err := codec.Unmarshal(raw, &md); err != nil {
		c.logger.Warn("metadata cache entry undecodable", "address", addr, "error", err)
		return Metadata{}, false
	}
	return md, true
}

func (c *metadataCache) put(md Metadata) {
	if c == nil {
		return
	}
	raw, err := codec.Marshal(md)
	if err != nil {
		c.logger.Warn("metadata cache encode failed", "address", md.Address, "error", err)
		return
	}
	if err := c.cache.Set(string(md.Address), raw); err != nil {
		c.logger.Warn("metadata cache write failed", "address", md.Address, "error", err)
	}
}

func (c *metadataCache) invalidate(addr cas.Address) {
	if c == nil {
		return
	}
	if err := c.cache.Delete(string(addr)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.logger.Warn("metadata cache delete failed", "address", addr, "error", err)
	}
}

func (c *metadataCache) close() error {
	if c == nil {
		return nil
	}
	if err := c.cache.Close(); err != nil {
		return fmt.Errorf("close metadata cache: %w", err)
	}
	return nil
}
