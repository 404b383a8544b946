// Package store provides the SQLite-backed durable key/value store shared by
// the content-addressable store and the offline operation queue.
//
// Every record lives in a single `entries` table keyed by its full key
// (for example `cas/<address>` or `queue/<operation-id>`). Component
// namespaces are a key-prefix convention applied by kv.WithPrefix.
//
// # Write Semantics
//
//   - Put is an upsert: INSERT ... ON CONFLICT(key) DO UPDATE. A rewritten
//     queue record replaces the previous one, never duplicates it.
//   - PutIfAbsent is INSERT ... ON CONFLICT(key) DO NOTHING. Concurrent
//     stores of identical content converge on exactly one row.
//   - Keys are returned ORDER BY key ASC (binary collation).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
