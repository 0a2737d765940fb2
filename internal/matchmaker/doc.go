// Package matchmaker contains the pairing and signaling-routing core: the
// connection registry, the FIFO waiting pool, the session table, and the
// relay logic that forwards signaling payloads between the two members of a
// session.
//
// The package does no I/O of its own. Clients plug in a per-connection
// Notifier; the transport layer lives in internal/signaling.
package matchmaker
