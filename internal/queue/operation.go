package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/scanvault/internal/codec"
)

// Operation is one unit of deferred work.
type Operation struct {
	ID         string
	Type       string
	Priority   int // lower is more urgent
	CreatedAt  time.Time
	RetryCount int
	MaxRetries int
	Payload    []byte

	LastError     string
	LastAttemptAt time.Time
}

// Exhausted reports whether the operation may not be attempted again.
func (op Operation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}

// record is the persisted form of an Operation.
type record struct {
	ID            string      `cbor:"id"`
	Type          string      `cbor:"type"`
	Priority      int         `cbor:"priority"`
	CreatedAt     time.Time   `cbor:"created_at"`
	RetryCount    int         `cbor:"retry_count"`
	MaxRetries    int         `cbor:"max_retries"`
	Payload       []byte      `cbor:"payload,omitempty"`
	Compression   Compression `cbor:"compression,omitempty"`
	PayloadSize   int         `cbor:"payload_size,omitempty"`
	LastError     string      `cbor:"last_error,omitempty"`
	LastAttemptAt time.Time   `cbor:"last_attempt_at"`
}

// encodeOperation compresses the payload with c when it is at least
// threshold bytes and compression actually shrinks it.
func encodeOperation(op Operation, c Compression, threshold int) ([]byte, error) {
	rec := record{
		ID:            op.ID,
		Type:          op.Type,
		Priority:      op.Priority,
		CreatedAt:     op.CreatedAt.UTC(),
		RetryCount:    op.RetryCount,
		MaxRetries:    op.MaxRetries,
		Payload:       op.Payload,
		LastError:     op.LastError,
		LastAttemptAt: op.LastAttemptAt.UTC(),
	}
	if c != CompressionNone && len(op.Payload) > 0 && len(op.Payload) >= threshold && len(op.Payload) <= maxPayloadSize {
		packed, err := compress(op.Payload, c)
		switch {
		case err == nil:
			rec.Payload = packed
			rec.Compression = c
			rec.PayloadSize = len(op.Payload)
		case errors.Is(err, errIncompressible):
		default:
			return nil, err
		}
	}
	data, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	return data, nil
}

func decodeOperation(data []byte) (Operation, error) {
	var rec record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	payload, err := decompress(rec.Payload, rec.Compression, rec.PayloadSize)
	if err != nil {
		return Operation{}, fmt.Errorf("decode operation %s: %w", rec.ID, err)
	}
	return Operation{
		ID:            rec.ID,
		Type:          rec.Type,
		Priority:      rec.Priority,
		CreatedAt:     rec.CreatedAt.UTC(),
		RetryCount:    rec.RetryCount,
		MaxRetries:    rec.MaxRetries,
		Payload:       payload,
		LastError:     rec.LastError,
		LastAttemptAt: rec.LastAttemptAt.UTC(),
	}, nil
}
