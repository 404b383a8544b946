package envelope

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Verifier checks that an envelope's signature is authentic.
//
// Verify returns (false, nil) for a well-formed envelope whose signature
// does not check out, and a non-nil error when verification could not be
// performed at all (unknown algorithm, unparseable key).
type Verifier interface {
	Verify(ctx context.Context, sc *SignedContent) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, sc *SignedContent) (bool, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, sc *SignedContent) (bool, error) {
	return f(ctx, sc)
}

// SignatureVerifier verifies Ed25519 and ES256K envelopes.
type SignatureVerifier struct{}

// NewSignatureVerifier returns a verifier for the built-in algorithms.
func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{}
}

// Verify recomputes SHA-256 over Content, compares it with ContentHash, and
// then checks Signature over ContentHash with PublicKey.
func (v *SignatureVerifier) Verify(ctx context.Context, sc *SignedContent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if sc == nil {
		return false, fmt.Errorf("verify: nil envelope")
	}

	sum := sha256.Sum256(sc.Content)
	if subtle.ConstantTimeCompare(sum[:], sc.ContentHash) != 1 {
		return false, nil
	}

	switch sc.Algorithm {
	case AlgorithmEd25519:
		if len(sc.PublicKey) != ed25519.PublicKeySize {
			return false, fmt.Errorf("verify: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(sc.PublicKey))
		}
		return ed25519.Verify(ed25519.PublicKey(sc.PublicKey), sc.ContentHash, sc.Signature), nil

	case AlgorithmES256K:
		pub, err := secp256k1.ParsePubKey(sc.PublicKey)
		if err != nil {
			return false, fmt.Errorf("verify: secp256k1 public key: %w", err)
		}
		sig, err := ecdsa.ParseDERSignature(sc.Signature)
		if err != nil {
			// A garbled signature is a failed verification, not an
			// inability to verify.
			return false, nil
		}
		return sig.Verify(sc.ContentHash, pub), nil

	default:
		return false, fmt.Errorf("verify: %w: %q", ErrUnsupportedAlgorithm, sc.Algorithm)
	}
}
