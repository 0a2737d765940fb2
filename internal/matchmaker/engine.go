package matchmaker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pairlink/relay/internal/metrics"
)

// State is a connection's position in the pairing lifecycle.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePaired:
		return "paired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type connection struct {
	id       string
	state    State
	notifier Notifier
}

// Config holds the engine's runtime limits.
type Config struct {
	// MaxConnections caps concurrently registered connections. 0 = unlimited.
	MaxConnections int
}

// Engine owns all pairing state: the connection registry, the FIFO waiting
// pool, and the session table.
//
// A single mutex serializes every compound operation, so a cancel racing a
// match either happens strictly before or strictly after it, never
// interleaved. Notifications are emitted while the lock is held, which is safe
// because Notifier implementations never block.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	conns    map[string]*connection
	pool     *waitingPool
	sessions *sessionTable
}

func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Engine{
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		conns:    make(map[string]*connection),
		pool:     newWaitingPool(),
		sessions: newSessionTable(),
	}
}

func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Register adds a live connection in the Idle state.
func (e *Engine) Register(id string, n Notifier) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[id]; ok {
		e.metrics.Inc(metrics.InvariantViolation)
		e.log.Error("duplicate connection registration refused", "conn_id", id)
		return fmt.Errorf("%w: connection %s already registered", ErrInvariant, id)
	}
	if e.cfg.MaxConnections > 0 && len(e.conns) >= e.cfg.MaxConnections {
		e.metrics.Inc(metrics.ServerFull)
		return ErrServerFull
	}

	e.conns[id] = &connection{id: id, state: StateIdle, notifier: n}
	e.log.Debug("connection registered", "conn_id", id, "connections", len(e.conns))
	return nil
}

// Unregister removes a connection and cascades cleanup: waiting-pool removal
// and session teardown with a targeted partner notification. Safe to call for
// an unknown id, and safe to call more than once.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unregisterLocked(id)
}

func (e *Engine) unregisterLocked(id string) {
	c, ok := e.conns[id]
	if !ok {
		return
	}

	e.pool.remove(id)

	if partnerID, had := e.sessions.destroy(id); had {
		e.metrics.Inc(metrics.PartnerDisconnect)
		if partner, ok := e.conns[partnerID]; ok {
			// The survivor returns to Idle; it must explicitly search again.
			partner.state = StateIdle
			e.notifyLocked(partner, PartnerDisconnected{PartnerID: id})
		}
	}

	delete(e.conns, id)
	e.log.Debug("connection unregistered", "conn_id", id, "state", c.state.String(), "connections", len(e.conns))
}

// Exists reports whether id is a registered live connection.
func (e *Engine) Exists(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.conns[id]
	return ok
}

// State returns the pairing state of a registered connection.
func (e *Engine) State(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[id]
	if !ok {
		return StateIdle, false
	}
	return c.state, true
}

// RequestPairing pairs id with the longest-waiting connection, or enqueues it
// if nobody is waiting.
//
// Re-requesting while Waiting or Paired is rejected with ErrInvalidState and
// changes nothing; the caller reports it to the requesting client only.
func (e *Engine) RequestPairing(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if c.state != StateIdle {
		e.metrics.Inc(metrics.InvalidState)
		return fmt.Errorf("%w: pairing requested while %s", ErrInvalidState, c.state)
	}

	e.metrics.Inc(metrics.SearchRequested)

	partner, ok := e.takeWaitingLocked()
	if !ok {
		e.pool.enqueue(id)
		c.state = StateWaiting
		e.log.Debug("connection waiting for partner", "conn_id", id, "waiting", e.pool.size())
		e.notifyLocked(c, Waiting{})
		return nil
	}

	if err := e.sessions.create(id, partner.id); err != nil {
		// The serialization discipline should make this unreachable; refuse the
		// match and put the partner back rather than corrupting the table.
		e.metrics.Inc(metrics.InvariantViolation)
		e.log.Error("session create refused", "conn_id", id, "partner_id", partner.id, "err", err)
		e.pool.enqueue(partner.id)
		return fmt.Errorf("pair %s with %s: %w", id, partner.id, err)
	}

	c.state = StatePaired
	partner.state = StatePaired
	e.metrics.Inc(metrics.PairMatched)
	e.log.Info("pair matched", "conn_id", id, "partner_id", partner.id, "sessions", e.sessions.size())

	// The newly-arriving client is the offer-initiator; the dequeued partner
	// answers. Deliver partner-found to both sides before handling delivery
	// failures so neither side can observe a partner-disconnected for a pairing
	// it was never told about.
	errPartner := e.deliverLocked(partner, PartnerFound{PartnerID: id, Initiator: false})
	errC := e.deliverLocked(c, PartnerFound{PartnerID: partner.id, Initiator: true})
	if errPartner != nil {
		e.dropLocked(partner.id, errPartner)
	}
	if errC != nil {
		e.dropLocked(c.id, errC)
	}
	return nil
}

// deliverLocked attempts delivery without side effects on failure.
func (e *Engine) deliverLocked(c *connection, ev Event) error {
	if c.notifier == nil {
		return nil
	}
	return c.notifier.Notify(ev)
}

// dropLocked treats a delivery failure as an implicit disconnect.
func (e *Engine) dropLocked(id string, cause error) {
	e.metrics.Inc(metrics.SendBufferOverflow)
	e.log.Warn("notification delivery failed, dropping connection", "conn_id", id, "err", cause)
	e.unregisterLocked(id)
}

// takeWaitingLocked dequeues the oldest waiting connection that is still
// registered and still Waiting.
func (e *Engine) takeWaitingLocked() (*connection, bool) {
	for {
		id, ok := e.pool.dequeueOldest()
		if !ok {
			return nil, false
		}
		c, ok := e.conns[id]
		if !ok || c.state != StateWaiting {
			// Unregister and cancel both remove pool entries, so a stale entry
			// here means a bookkeeping bug. Skip it rather than mis-pairing.
			e.metrics.Inc(metrics.InvariantViolation)
			e.log.Error("stale waiting pool entry skipped", "conn_id", id)
			continue
		}
		return c, true
	}
}

// CancelSearch removes id from the waiting pool.
//
// Cancelling while Idle is an idempotent no-op (a second cancel never errors).
// Cancelling while Paired is rejected with ErrInvalidState.
func (e *Engine) CancelSearch(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}

	switch c.state {
	case StateWaiting:
		e.pool.remove(id)
		c.state = StateIdle
		e.metrics.Inc(metrics.SearchCancelled)
		e.log.Debug("search cancelled", "conn_id", id)
		return nil
	case StateIdle:
		return nil
	default:
		e.metrics.Inc(metrics.InvalidState)
		return fmt.Errorf("%w: cancel while %s", ErrInvalidState, c.state)
	}
}

// EndSession tears down id's session from either side. The partner is always
// notified exactly once and both members return to Idle; neither re-enters
// the waiting pool automatically.
func (e *Engine) EndSession(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if c.state != StatePaired {
		e.metrics.Inc(metrics.InvalidState)
		return fmt.Errorf("%w: end session while %s", ErrInvalidState, c.state)
	}

	partnerID, had := e.sessions.destroy(id)
	if !had {
		e.metrics.Inc(metrics.InvariantViolation)
		e.log.Error("paired connection missing from session table", "conn_id", id)
		c.state = StateIdle
		return fmt.Errorf("end session for %s: %w", id, ErrInvariant)
	}

	c.state = StateIdle
	e.metrics.Inc(metrics.SessionEnded)
	e.metrics.Inc(metrics.PartnerDisconnect)
	e.log.Info("session ended", "conn_id", id, "partner_id", partnerID)

	if partner, ok := e.conns[partnerID]; ok {
		partner.state = StateIdle
		e.notifyLocked(partner, PartnerDisconnected{PartnerID: id})
	}
	return nil
}

// Relay forwards a signaling payload to the sender's partner, verbatim,
// tagged with the sender's id.
//
// target, when non-empty, must name the current partner; a mismatch (stale
// target after a disconnect/re-pair race) drops the message with a routing
// error instead of forwarding it to an unrelated connection.
func (e *Engine) Relay(senderID string, kind SignalKind, target string, payload json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[senderID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, senderID)
	}

	partnerID, ok := e.sessions.lookupPartner(senderID)
	if !ok {
		e.metrics.Inc(metrics.RoutingError)
		return fmt.Errorf("relay %s from %s: %w", kind, senderID, ErrNotPaired)
	}
	if target != "" && target != partnerID {
		e.metrics.Inc(metrics.RoutingError)
		return fmt.Errorf("relay %s from %s to %s: %w", kind, senderID, target, ErrTargetMismatch)
	}

	partner, ok := e.conns[partnerID]
	if !ok {
		e.metrics.Inc(metrics.InvariantViolation)
		e.log.Error("session partner missing from registry", "conn_id", senderID, "partner_id", partnerID)
		return fmt.Errorf("relay %s from %s: %w", kind, senderID, ErrNotPaired)
	}

	if !e.notifyLocked(partner, Signal{Kind: kind, SenderID: senderID, Payload: payload}) {
		// Delivery failed and the partner was dropped; the sender will see a
		// partner-disconnected event from the cascade.
		e.metrics.Inc(metrics.RoutingError)
		return fmt.Errorf("relay %s from %s: %w", kind, senderID, ErrNotPaired)
	}

	switch kind {
	case SignalOffer:
		e.metrics.Inc(metrics.RelayedOffer)
	case SignalAnswer:
		e.metrics.Inc(metrics.RelayedAnswer)
	case SignalCandidate:
		e.metrics.Inc(metrics.RelayedCandidate)
	}
	return nil
}

// notifyLocked delivers ev to c, treating a delivery failure as an implicit
// disconnect of c (same cascade as an explicit disconnect). Reports whether
// delivery succeeded.
func (e *Engine) notifyLocked(c *connection, ev Event) bool {
	if err := e.deliverLocked(c, ev); err != nil {
		e.dropLocked(c.id, err)
		return false
	}
	return true
}

// Stats is a point-in-time snapshot of engine occupancy.
type Stats struct {
	Connections int `json:"connections"`
	Waiting     int `json:"waiting"`
	Sessions    int `json:"sessions"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Connections: len(e.conns),
		Waiting:     e.pool.size(),
		Sessions:    e.sessions.size(),
	}
}
