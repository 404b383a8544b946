// Package envelope defines SignedContent, the signed wrapper stored in the
// vault, together with its canonical byte encoding, signers, and the
// signature verifier.
//
// The canonical encoding is what gets content-addressed, so it must be
// byte-stable: fields are always written in the same order, binary fields
// are standard base64, the timestamp is RFC 3339 in UTC, and tag strings
// are NFC-normalised. Two envelopes with equal fields always encode to
// identical bytes.
//
// Signing covers ContentHash (SHA-256 of Content), not Content directly.
// Verification recomputes the hash before checking the signature, so a
// corrupted Content field is caught even if ContentHash and Signature are
// intact.
package envelope
