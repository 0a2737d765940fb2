package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	// Client -> relay.
	MessageTypeAuth      MessageType = "auth"
	MessageTypeSearch    MessageType = "search"
	MessageTypeCancel    MessageType = "cancel"
	MessageTypeLeave     MessageType = "leave"
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"

	// Relay -> client.
	MessageTypeReady               MessageType = "ready"
	MessageTypeWaiting             MessageType = "waiting"
	MessageTypePartnerFound        MessageType = "partner-found"
	MessageTypePartnerDisconnected MessageType = "partner-disconnected"
	MessageTypeError               MessageType = "error"
)

// SignalMessage is the JSON envelope for every frame on the signaling socket.
type SignalMessage struct {
	Type MessageType `json:"type"`

	// auth (AUTH_MODE=jwt).
	Token string `json:"token,omitempty"`

	// offer/answer carry sdp, candidate carries candidate. Contents are opaque
	// to the relay. Target optionally names the intended recipient; it must be
	// the sender's current partner.
	Target    string          `json:"target,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Outbound provenance and pairing fields.
	SenderID  string `json:"senderId,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
	Initiator bool   `json:"initiator,omitempty"`

	// ready.
	ConnectionID string             `json:"connectionId,omitempty"`
	ICEServers   []webrtc.ICEServer `json:"iceServers,omitempty"`

	// error.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseSignalMessage decodes and validates one client frame. Unknown fields
// and trailing data are rejected.
func ParseSignalMessage(data []byte) (SignalMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg SignalMessage
	if err := dec.Decode(&msg); err != nil {
		return SignalMessage{}, err
	}
	if err := msg.validateInbound(); err != nil {
		return SignalMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SignalMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m SignalMessage) validateInbound() error {
	switch m.Type {
	case MessageTypeAuth:
		if m.Token == "" {
			return fmt.Errorf("auth message missing token")
		}
		if m.SDP != nil || m.Candidate != nil || m.Target != "" || m.hasOutboundFields() {
			return fmt.Errorf("auth message has unexpected fields")
		}
	case MessageTypeSearch, MessageTypeCancel, MessageTypeLeave:
		if m.Token != "" || m.SDP != nil || m.Candidate != nil || m.Target != "" || m.hasOutboundFields() {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case MessageTypeOffer, MessageTypeAnswer:
		if m.SDP == nil {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
		if m.Token != "" || m.Candidate != nil || m.hasOutboundFields() {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case MessageTypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("candidate message missing candidate")
		}
		if m.Token != "" || m.SDP != nil || m.hasOutboundFields() {
			return fmt.Errorf("candidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func (m SignalMessage) hasOutboundFields() bool {
	return m.SenderID != "" || m.PartnerID != "" || m.Initiator ||
		m.ConnectionID != "" || len(m.ICEServers) > 0 || m.Code != "" || m.Message != ""
}
