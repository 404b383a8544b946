// Package harness runs end-to-end scenarios against the vault and the
// offline queue.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: invoice_tamper
//	description: "A rewritten envelope is reported as tampered"
//	keys:
//	  device: ed25519
//	handlers:
//	  upload: { fail_times: 2 }
//	flow:
//	  - do: store
//	    args: { ref: inv, key: device, content: invoice-42 }
//	    expect: { outcome: stored }
//	  - do: tamper
//	    args: { ref: inv, content: invoice-99 }
//	  - do: retrieve
//	    args: { ref: inv }
//	    expect: { outcome: tampered }
//	assertions:
//	  - type: trace_contains
//	    action: retrieve
//	    args: { outcome: tampered }
//	  - type: final_state
//	    table: vault
//	    expect: { count: 1 }
//
// # Actions
//
//   - store: sign content with a named key and store it under a ref
//   - retrieve: fetch and verify a ref (outcome found, not_found, tampered)
//   - tamper: replace the stored content of a ref, keeping its signature
//   - corrupt: overwrite a ref with bytes that are not an envelope
//   - delete: remove a ref (outcome deleted or missing)
//   - list: list stored refs, newest first
//   - enqueue: queue an operation (IDs are op-0001, op-0002, ...)
//   - process: drain the queue once
//   - clear: purge operations that are not awaiting a retry
//
// # Assertion Types
//
//   - trace_contains: a step or event with the name and matching fields
//   - trace_order: names appear in the given order
//   - trace_count: a name (with optional matching fields) appears N times
//   - final_state: checks the vault, queue, or a single operation
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, a self-advancing fake
// clock starting at Epoch, jitter fixed at 1.0, sequential operation IDs,
// and signing keys derived from their names, so traces are identical
// across runs and can be compared against golden files.
package harness
