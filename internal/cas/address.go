package cas

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/roach88/scanvault/internal/digest"
)

// Address is the content address of a stored payload.
type Address string

// ErrInvalidAddress is returned for empty or malformed addresses.
var ErrInvalidAddress = errors.New("cas: invalid content address")

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// EncodeDigest converts digest bytes to an Address.
func EncodeDigest(sum []byte) Address {
	return Address(base64.RawURLEncoding.EncodeToString(sum))
}

// AddressOf computes the address data would be stored under.
func AddressOf(alg digest.Algorithm, data []byte) Address {
	return EncodeDigest(alg.ComputeHash(data))
}

// ParseAddress validates s as an Address: non-empty, base64url alphabet,
// no padding.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return Address(s), nil
}

// Digest decodes the address back to digest bytes.
func (a Address) Digest() ([]byte, error) {
	sum, err := base64.RawURLEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, string(a), err)
	}
	return sum, nil
}
