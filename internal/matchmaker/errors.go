package matchmaker

import "errors"

var (
	// ErrServerFull is returned by Register when the connection cap is reached.
	ErrServerFull = errors.New("matchmaker: server full")

	// ErrUnknownConnection is returned when an operation names a connection id
	// that is not registered.
	ErrUnknownConnection = errors.New("matchmaker: unknown connection")

	// ErrInvalidState is returned when an operation is not legal in the
	// connection's current state (e.g. EndSession while not paired). Callers
	// report it to the originating client only; it is never fatal.
	ErrInvalidState = errors.New("matchmaker: operation not valid in current state")

	// ErrNotPaired is the routing error: a signaling message was sent by a
	// connection with no active session (never paired, or the partner already
	// disconnected). The message is dropped and the sender notified.
	ErrNotPaired = errors.New("matchmaker: no active session")

	// ErrTargetMismatch is the routing error for a message whose explicit target
	// is not the sender's current partner (stale target after a re-pair).
	ErrTargetMismatch = errors.New("matchmaker: target is not the current partner")

	// ErrInvariant indicates a bookkeeping invariant would have been violated
	// (e.g. pairing a connection that is already in a session). The mutation is
	// refused and the tables are left untouched; seeing this error in production
	// means a bug in the serialization discipline, not corrupted state.
	ErrInvariant = errors.New("matchmaker: invariant violation")
)
