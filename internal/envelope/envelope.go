package envelope

import (
	"errors"
	"time"
)

// Version is the current envelope schema version.
const Version = "1"

// Signature algorithms.
const (
	AlgorithmEd25519 = "Ed25519"
	AlgorithmES256K  = "ES256K"
)

var (
	// ErrUnsupportedVersion is returned when decoding an envelope whose
	// version this build does not understand.
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")

	// ErrUnsupportedAlgorithm is returned for unknown signature algorithms.
	ErrUnsupportedAlgorithm = errors.New("envelope: unsupported algorithm")

	// ErrMalformed is returned when bytes are not a valid canonical envelope.
	ErrMalformed = errors.New("envelope: malformed")
)

// SignedContent binds content to a signature and the key that made it.
// Never mutated after Sign returns it.
type SignedContent struct {
	Content     []byte
	ContentHash []byte
	Signature   []byte
	PublicKey   []byte
	Algorithm   string
	Version     string
	Timestamp   time.Time
}
