// Package session owns the host side of the Atom request/response link.
//
// Ownership boundary:
// - one exclusive transaction at a time over a byte Transport
// - per-attempt deadlines, bounded retries and deterministic backoff
// - the keep-awake (wake) handshake and the peer power-state belief
//
// Payload semantics stay in schema; failure classification stays in the
// protocol package.
package session
