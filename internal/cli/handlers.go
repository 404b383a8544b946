package cli

import (
	"context"
	"fmt"

	"github.com/roach88/scanvault/internal/envelope"
	"github.com/roach88/scanvault/internal/queue"
	"github.com/roach88/scanvault/internal/vault"
)

// OpVaultStore is the operation type that stores a deferred envelope.
// Its payload is the canonical encoding of the envelope.
const OpVaultStore = "vault.store"

// vaultStoreHandler stores deferred envelopes into v. Envelopes that do
// not verify are rejected rather than stored.
func vaultStoreHandler(v *vault.Vault) queue.HandlerFunc {
	verifier := envelope.NewSignatureVerifier()
	return func(ctx context.Context, op queue.Operation) error {
		sc, err := envelope.Unmarshal(op.Payload)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		ok, err := verifier.Verify(ctx, sc)
		if err != nil {
			return fmt.Errorf("verify envelope: %w", err)
		}
		if !ok {
			return vault.ErrSignatureMismatch
		}
		if _, err := v.Store(ctx, sc); err != nil {
			return err
		}
		return nil
	}
}
