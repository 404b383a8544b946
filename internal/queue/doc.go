// Package queue implements the durable offline operation queue.
//
// Operations that cannot complete right away are enqueued and later
// replayed by Process (a "drain") in (Priority, CreatedAt, ID) order.
// Each operation moves through:
//
//	Queued -> Processing -> Succeeded         (removed, OperationSucceeded)
//	                     -> Retrying          (RetryCount+1, persisted, OperationFailed)
//	                     -> PermanentlyFailed (removed, OperationFailed{Permanent: true})
//
// An operation whose RetryCount has reached MaxRetries is evicted at the
// start of its next drain without another attempt. Retried operations wait
// Policy.Backoff before each attempt.
//
// Records live under the "queue/" prefix of a shared kv.Store, one CBOR
// record per operation keyed by ID. Store writes are upserts, so a retry
// rewrites the same record.
//
// At most one drain runs at a time; a concurrent Process call returns
// immediately with Summary.Skipped set.
package queue
