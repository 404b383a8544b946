package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID        string    `cbor:"id"`
	Priority  int       `cbor:"priority"`
	CreatedAt time.Time `cbor:"created_at"`
	Payload   []byte    `cbor:"payload,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := record{
		ID:        "0190f1c2-0000-7000-8000-000000000001",
		Priority:  2,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC),
		Payload:   []byte{0x00, 0x01, 0xfe},
	}

	data, err := Marshal(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var decoded record
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Priority, decoded.Priority)
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt), "nanoseconds preserved")
	assert.Equal(t, original.Payload, decoded.Payload)
}

func TestMarshalDeterministic(t *testing.T) {
	m := map[string]any{"zeta": 1, "alpha": 2, "mid": []string{"a", "b"}}

	first, err := Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"type": "vault.store"})
	require.NoError(t, err)

	var decoded any
	require.NoError(t, Unmarshal(data, &decoded))
	m, ok := decoded.(map[string]any)
	require.True(t, ok, "got %T", decoded)
	assert.Equal(t, "vault.store", m["type"])
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"id": "x", "future_field": true})
	require.NoError(t, err)

	var decoded record
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, "x", decoded.ID)
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]int{"a": 1})
	require.NoError(t, err)

	diag, err := Diagnose(data)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, diag)
}
