// Package atomlink is a host-side client for the Helium Atom radio module
// over a serial line.
//
// A Client owns one serial link. Every call is a single request/response
// transaction with bounded retries, and failures are classified into a
// small set of kinds callers branch on with errors.Is:
//
//	info, err := c.Info()
//	if errors.Is(err, atomlink.NoData) {
//		// the module stayed silent
//	}
//
// Channels are opened after Connect and carry opaque payloads to and from
// the network.
package atomlink
