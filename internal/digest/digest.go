// Package digest provides the hashing primitive behind content addresses.
//
// An Algorithm is deterministic and side-effect free. The empty input is
// valid and hashes to the algorithm's well-known empty digest.
package digest

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names accepted by ByName and used in configuration files.
const (
	NameSHA256 = "sha256"
	NameBLAKE3 = "blake3"
)

// Algorithm computes a fixed-size cryptographic digest of a byte payload.
type Algorithm interface {
	// Name returns the configuration name of the algorithm.
	Name() string

	// Size returns the digest length in bytes.
	Size() int

	// ComputeHash returns the digest of data. The returned slice is
	// owned by the caller.
	ComputeHash(data []byte) []byte
}

// SHA256 returns the default algorithm (32-byte output).
func SHA256() Algorithm { return sha256Algorithm{} }

// BLAKE3 returns the BLAKE3 algorithm with a 32-byte output.
func BLAKE3() Algorithm { return blake3Algorithm{} }

// Default is the algorithm used when none is configured.
func Default() Algorithm { return SHA256() }

// ByName resolves a configuration name to an Algorithm. Matching is
// case-insensitive; an empty name selects the default.
func ByName(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameSHA256, "sha-256":
		return SHA256(), nil
	case NameBLAKE3:
		return BLAKE3(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

type sha256Algorithm struct{}

func (sha256Algorithm) Name() string { return NameSHA256 }
func (sha256Algorithm) Size() int    { return sha256.Size }

func (sha256Algorithm) ComputeHash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

type blake3Algorithm struct{}

func (blake3Algorithm) Name() string { return NameBLAKE3 }
func (blake3Algorithm) Size() int    { return 32 }

func (blake3Algorithm) ComputeHash(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}
