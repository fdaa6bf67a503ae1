// Package protocol owns the failure taxonomy and the pure classifier that
// maps engine outcomes onto it.
//
// Ownership boundary:
// - frame: wire frame codec and boundary scanner
// - tlv: payload field primitives
// - schema: per-atom payload contract
// - session: transaction engine, retry and wake handshake
// - this package: Kind, Error, Classify
package protocol
