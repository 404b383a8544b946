package envelope

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Sign wraps content in a SignedContent signed by signer at now.
// The content slice is copied.
func Sign(content []byte, signer Signer, now time.Time) (*SignedContent, error) {
	if signer == nil {
		return nil, fmt.Errorf("sign: nil signer")
	}
	body := make([]byte, len(content))
	copy(body, content)

	sum := sha256.Sum256(body)
	sig, err := signer.Sign(sum[:])
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", signer.Algorithm(), err)
	}

	return &SignedContent{
		Content:     body,
		ContentHash: sum[:],
		Signature:   sig,
		PublicKey:   signer.PublicKey(),
		Algorithm:   signer.Algorithm(),
		Version:     Version,
		Timestamp:   now.UTC(),
	}, nil
}
