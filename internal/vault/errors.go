package vault

import (
	"errors"
	"fmt"

	"github.com/roach88/scanvault/internal/cas"
)

var (
	// ErrNilContent is returned by Store for a nil envelope.
	ErrNilContent = errors.New("vault: signed content is nil")

	// ErrEmptyAddress is returned for an empty content address.
	ErrEmptyAddress = errors.New("vault: content address is empty")

	// ErrSignatureMismatch is the cause recorded when the verifier rejects
	// an envelope.
	ErrSignatureMismatch = errors.New("signature does not verify")
)

// VerificationError reports stored content that failed verification.
// It is never retried and never downgraded.
type VerificationError struct {
	Address cas.Address
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("vault: verification failed for %s: %v", e.Address, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// IsTampered reports whether err is (or wraps) a VerificationError.
func IsTampered(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}
