package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairlink/relay/internal/auth"
	"github.com/pairlink/relay/internal/matchmaker"
)

const writeTimeout = 10 * time.Second

var (
	errSendBufferFull = errors.New("signaling: send buffer full")
	errClientClosed   = errors.New("signaling: client closed")
)

// client is one authenticated WebSocket connection. It implements
// matchmaker.Notifier: Notify never blocks because outbound frames pass
// through a bounded queue drained by writePump, and a full queue is reported
// as an error so the engine treats the client as dead.
type client struct {
	id   string
	user auth.UserRecord
	conn *websocket.Conn
	log  *slog.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newClient(id string, user auth.UserRecord, conn *websocket.Conn, log *slog.Logger, sendBuffer int) *client {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	return &client{
		id:   id,
		user: user,
		conn: conn,
		log:  log,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Notify is called by the engine with its lock held.
func (c *client) Notify(ev matchmaker.Event) error {
	msg, err := outboundMessage(ev)
	if err != nil {
		return err
	}
	if err := c.enqueue(msg); err != nil {
		// The engine drops us on a Notify error; make sure the pumps follow.
		c.close()
		return err
	}
	return nil
}

func outboundMessage(ev matchmaker.Event) (SignalMessage, error) {
	switch ev := ev.(type) {
	case matchmaker.Waiting:
		return SignalMessage{Type: MessageTypeWaiting}, nil
	case matchmaker.PartnerFound:
		return SignalMessage{Type: MessageTypePartnerFound, PartnerID: ev.PartnerID, Initiator: ev.Initiator}, nil
	case matchmaker.PartnerDisconnected:
		return SignalMessage{Type: MessageTypePartnerDisconnected, PartnerID: ev.PartnerID}, nil
	case matchmaker.Signal:
		msg := SignalMessage{SenderID: ev.SenderID}
		switch ev.Kind {
		case matchmaker.SignalOffer:
			msg.Type = MessageTypeOffer
			msg.SDP = ev.Payload
		case matchmaker.SignalAnswer:
			msg.Type = MessageTypeAnswer
			msg.SDP = ev.Payload
		case matchmaker.SignalCandidate:
			msg.Type = MessageTypeCandidate
			msg.Candidate = ev.Payload
		default:
			return SignalMessage{}, fmt.Errorf("unsupported signal kind %q", ev.Kind)
		}
		return msg, nil
	default:
		return SignalMessage{}, fmt.Errorf("unsupported event %T", ev)
	}
}

func (c *client) enqueue(msg SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

// sendError queues an error envelope. Delivery is best-effort: if the queue is
// full the client is already beyond saving and is closed instead.
func (c *client) sendError(code, message string) {
	err := c.enqueue(SignalMessage{Type: MessageTypeError, Code: code, Message: message})
	if err != nil && !errors.Is(err, errClientClosed) {
		c.log.Warn("error frame dropped", "conn_id", c.id, "code", code, "err", err)
		c.close()
	}
}

// writePump owns all writes to the socket. It exits when the client is closed,
// flushing queued frames before the close frame.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data := <-c.send:
			if !c.writeFrame(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

func (c *client) drain() {
	for {
		select {
		case data := <-c.send:
			if !c.writeFrame(websocket.TextMessage, data) {
				return
			}
		default:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *client) writeFrame(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.close()
		return false
	}
	return true
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
