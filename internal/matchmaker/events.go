package matchmaker

import "encoding/json"

// SignalKind tags a relayed signaling payload.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Event is a notification delivered to one connection.
type Event interface {
	isEvent()
}

// Waiting tells a client it was placed in the waiting pool.
type Waiting struct{}

// PartnerFound tells a client it was paired. Initiator is true for the side
// that should create and send the SDP offer: the newly-arriving client dials,
// the dequeued one answers.
type PartnerFound struct {
	PartnerID string
	Initiator bool
}

// PartnerDisconnected tells a client its session ended, either because the
// partner explicitly ended the call or because it disconnected.
type PartnerDisconnected struct {
	PartnerID string
}

// Signal carries a relayed offer/answer/candidate payload, verbatim, tagged
// with the sender's connection id.
type Signal struct {
	Kind     SignalKind
	SenderID string
	Payload  json.RawMessage
}

func (Waiting) isEvent()             {}
func (PartnerFound) isEvent()        {}
func (PartnerDisconnected) isEvent() {}
func (Signal) isEvent()              {}

// Notifier delivers events to one client connection.
//
// Notify is called with the engine's lock held and must never block: the
// transport layer buffers outbound messages and reports an error when the
// buffer is full or the connection is gone. A Notify error is treated as an
// implicit disconnect of that connection.
type Notifier interface {
	Notify(ev Event) error
}
