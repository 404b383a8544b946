package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/envelope"
	"github.com/roach88/scanvault/internal/kv"
	"github.com/roach88/scanvault/internal/queue"
	"github.com/roach88/scanvault/internal/vault"
)

func TestVaultStoreHandler(t *testing.T) {
	ctx := context.Background()
	store := cas.New(kv.NewMemory())
	v, err := vault.New(store, envelope.NewSignatureVerifier(), vault.WithMetadataCache(0))
	require.NoError(t, err)
	handler := vaultStoreHandler(v)

	signer, err := envelope.GenerateEd25519()
	require.NoError(t, err)
	sc, err := envelope.Sign([]byte("invoice-42"), signer, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	payload, err := envelope.Marshal(sc)
	require.NoError(t, err)

	t.Run("stores a valid envelope", func(t *testing.T) {
		require.NoError(t, handler.Handle(ctx, queue.Operation{Type: OpVaultStore, Payload: payload}))

		r, err := v.Retrieve(ctx, cas.AddressOf(store.Algorithm(), payload))
		require.NoError(t, err)
		assert.Equal(t, vault.Found, r.Outcome)
	})

	t.Run("rejects a forged envelope", func(t *testing.T) {
		forged := *sc
		forged.Content = []byte("invoice-99")
		data, err := envelope.Marshal(&forged)
		require.NoError(t, err)

		err = handler.Handle(ctx, queue.Operation{Type: OpVaultStore, Payload: data})
		assert.ErrorIs(t, err, vault.ErrSignatureMismatch)
	})

	t.Run("rejects a non-envelope payload", func(t *testing.T) {
		err := handler.Handle(ctx, queue.Operation{Type: OpVaultStore, Payload: []byte("not an envelope")})
		assert.ErrorIs(t, err, envelope.ErrMalformed)
	})
}
