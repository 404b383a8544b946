// Package vault stores signed envelopes in the content-addressable store
// and verifies every envelope it hands back.
//
// Retrieval has three outcomes, reported as a tagged Retrieval value:
//
//   - Found: the envelope decoded and its signature verified.
//   - NotFound: nothing is stored at the address. Not an error.
//   - Tampered: the stored bytes could not be decoded or did not verify.
//     Retrieve also returns a *VerificationError so callers that only
//     check err still fail loudly.
//
// Metadata is a read-only projection of a stored envelope. Because stored
// content is immutable, projections are cached in memory (bigcache) and
// only invalidated by Delete.
package vault
