package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signer produces signatures over content hashes.
type Signer interface {
	// Algorithm returns the envelope algorithm tag.
	Algorithm() string

	// PublicKey returns the encoded public key placed in envelopes.
	PublicKey() []byte

	// Sign signs a 32-byte content hash.
	Sign(hash []byte) ([]byte, error)

	// PrivateKey returns the encoded private key for persisting to a key
	// file. ParseSigner accepts the same encoding.
	PrivateKey() []byte
}

// Ed25519Signer signs with an Ed25519 key. The public key is the 32-byte
// raw key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(key ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	return &Ed25519Signer{key: key}, nil
}

// GenerateEd25519 creates a signer with a fresh random key.
func GenerateEd25519() (*Ed25519Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ed25519 keygen: %w", err)
	}
	return &Ed25519Signer{key: key}, nil
}

func (s *Ed25519Signer) Algorithm() string { return AlgorithmEd25519 }

func (s *Ed25519Signer) PublicKey() []byte {
	return []byte(s.key.Public().(ed25519.PublicKey))
}

func (s *Ed25519Signer) Sign(hash []byte) ([]byte, error) {
	return ed25519.Sign(s.key, hash), nil
}

func (s *Ed25519Signer) PrivateKey() []byte {
	out := make([]byte, len(s.key))
	copy(out, s.key)
	return out
}

// Secp256k1Signer signs with secp256k1 ECDSA (ES256K). Signatures are DER
// encoded; the public key is the 33-byte compressed point.
type Secp256k1Signer struct {
	key *secp256k1.PrivateKey
}

// NewSecp256k1Signer wraps a 32-byte private scalar.
func NewSecp256k1Signer(raw []byte) (*Secp256k1Signer, error) {
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("secp256k1: private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("secp256k1: private key is zero mod N")
	}
	return &Secp256k1Signer{key: key}, nil
}

// GenerateSecp256k1 creates a signer with a fresh random key.
func GenerateSecp256k1() (*Secp256k1Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("secp256k1 keygen: %w", err)
	}
	return &Secp256k1Signer{key: key}, nil
}

func (s *Secp256k1Signer) Algorithm() string { return AlgorithmES256K }

func (s *Secp256k1Signer) PublicKey() []byte {
	return s.key.PubKey().SerializeCompressed()
}

func (s *Secp256k1Signer) Sign(hash []byte) ([]byte, error) {
	return ecdsa.Sign(s.key, hash).Serialize(), nil
}

func (s *Secp256k1Signer) PrivateKey() []byte {
	return s.key.Serialize()
}

// Generate creates a signer for the named algorithm. Names are matched
// case-insensitively; "es256k" and "secp256k1" are equivalent.
func Generate(algorithm string) (Signer, error) {
	switch canonicalAlgorithm(algorithm) {
	case AlgorithmEd25519:
		return GenerateEd25519()
	case AlgorithmES256K:
		return GenerateSecp256k1()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

// ParseSigner rebuilds a signer from a PrivateKey encoding.
func ParseSigner(algorithm string, privateKey []byte) (Signer, error) {
	switch canonicalAlgorithm(algorithm) {
	case AlgorithmEd25519:
		return NewEd25519Signer(ed25519.PrivateKey(privateKey))
	case AlgorithmES256K:
		return NewSecp256k1Signer(privateKey)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

func canonicalAlgorithm(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ed25519":
		return AlgorithmEd25519
	case "es256k", "secp256k1":
		return AlgorithmES256K
	default:
		return ""
	}
}
