// Package channel tracks logical channels multiplexed over one Atom link:
// id allocation, open/close lifecycle, and send/receive on open channels.
package channel
