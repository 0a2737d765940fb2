// Package signaling is the WebSocket surface of the relay: one long-lived,
// ordered connection per client, carrying the pairing commands
// (search/cancel/leave) and the offer/answer/candidate payloads that the
// matchmaker routes between the two members of a session.
//
// The relay never interprets SDP or candidate contents; payloads are
// forwarded verbatim with the sender's connection id attached.
package signaling
