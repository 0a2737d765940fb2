package metrics

import "sync"

// Event counter names used across the relay.
const (
	SearchRequested    = "search_requested"
	SearchCancelled    = "search_cancelled"
	PairMatched        = "pair_matched"
	SessionEnded       = "session_ended"
	PartnerDisconnect  = "partner_disconnect"
	RelayedOffer       = "relayed_offer"
	RelayedAnswer      = "relayed_answer"
	RelayedCandidate   = "relayed_candidate"
	RoutingError       = "routing_error"
	InvalidState       = "invalid_state"
	InvariantViolation = "invariant_violation"
	AuthFailure        = "auth_failure"
	RateLimited        = "rate_limited"
	MessageTooLarge    = "message_too_large"
	ServerFull         = "server_full"
	SendBufferOverflow = "send_buffer_overflow"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It keeps the matchmaking and routing logic testable without pulling a full
// metrics backend into the core; counters are exposed for scraping via
// PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
