// Package cas implements the content-addressable store.
//
// Content is addressed by the URL-safe, unpadded base64 encoding of its
// digest. Byte-identical payloads always share one address and one stored
// entry; a store of existing content is a no-op, never an overwrite.
//
// Entries live under the "cas/" namespace of a shared kv.Store:
//
//	cas/<address> -> raw content bytes
//
// Absence is not an error for size queries: Size and TotalSize report zero
// for missing entries. Get reports ErrNotFound so callers can distinguish
// an empty payload from a missing one.
package cas
