package matchmaker

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/relay/internal/metrics"
)

// recorder captures events delivered to one connection.
type recorder struct {
	events []Event
	fail   bool
}

var errNotifyFailed = errors.New("notify failed")

func (r *recorder) Notify(ev Event) error {
	if r.fail {
		return errNotifyFailed
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) last(t *testing.T) Event {
	t.Helper()
	require.NotEmpty(t, r.events, "expected at least one event")
	return r.events[len(r.events)-1]
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Config{}, nil, metrics.New())
}

func register(t *testing.T, e *Engine, id string) *recorder {
	t.Helper()
	rec := &recorder{}
	require.NoError(t, e.Register(id, rec))
	return rec
}

func TestRegisterEnforcesMaxConnections(t *testing.T) {
	e := New(Config{MaxConnections: 1}, nil, metrics.New())

	require.NoError(t, e.Register("a", &recorder{}))
	err := e.Register("b", &recorder{})
	require.ErrorIs(t, err, ErrServerFull)
	assert.Equal(t, uint64(1), e.Metrics().Get(metrics.ServerFull))

	e.Unregister("a")
	require.NoError(t, e.Register("b", &recorder{}))
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "a")
	err := e.Register("a", &recorder{})
	require.ErrorIs(t, err, ErrInvariant)
}

func TestFirstSearcherWaits(t *testing.T) {
	e := newTestEngine(t)
	recX := register(t, e, "x")

	require.NoError(t, e.RequestPairing("x"))

	require.Len(t, recX.events, 1)
	assert.Equal(t, Waiting{}, recX.events[0])

	state, ok := e.State("x")
	require.True(t, ok)
	assert.Equal(t, StateWaiting, state)
	assert.Equal(t, Stats{Connections: 1, Waiting: 1, Sessions: 0}, e.Stats())
}

func TestSecondSearcherPairsWithFirst(t *testing.T) {
	e := newTestEngine(t)
	recX := register(t, e, "x")
	recY := register(t, e, "y")

	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	// x waited first, y arrived second: y is the offer-initiator.
	require.Len(t, recX.events, 2)
	assert.Equal(t, PartnerFound{PartnerID: "y", Initiator: false}, recX.events[1])
	require.Len(t, recY.events, 1)
	assert.Equal(t, PartnerFound{PartnerID: "x", Initiator: true}, recY.events[0])

	for _, id := range []string{"x", "y"} {
		state, ok := e.State(id)
		require.True(t, ok)
		assert.Equal(t, StatePaired, state, "state of %s", id)
	}
	assert.Equal(t, Stats{Connections: 2, Waiting: 0, Sessions: 1}, e.Stats())
}

func TestFIFOFairness(t *testing.T) {
	e := newTestEngine(t)
	recA := register(t, e, "a")
	register(t, e, "b")
	recC := register(t, e, "c")

	require.NoError(t, e.RequestPairing("a"))
	require.NoError(t, e.RequestPairing("b"))

	// a and b paired immediately. A third searcher starts a fresh queue.
	require.NoError(t, e.RequestPairing("c"))
	assert.Equal(t, Waiting{}, recC.last(t))

	// a paired with b, not with c.
	assert.Equal(t, PartnerFound{PartnerID: "b", Initiator: false}, recA.last(t))
}

func TestFIFOFairnessAcrossCancellation(t *testing.T) {
	e := newTestEngine(t)
	recA := register(t, e, "a")
	recB := register(t, e, "b")
	recD := register(t, e, "d")

	// Two waiters can only coexist if the earlier match paths never ran, so
	// simulate it via cancel: a waits, cancels, re-waits after b.
	require.NoError(t, e.RequestPairing("a"))
	require.NoError(t, e.CancelSearch("a"))
	require.NoError(t, e.RequestPairing("b"))

	require.NoError(t, e.RequestPairing("d"))

	// b waited longest once a cancelled; d pairs with b.
	assert.Equal(t, PartnerFound{PartnerID: "d", Initiator: false}, recB.last(t))
	assert.Equal(t, PartnerFound{PartnerID: "b", Initiator: true}, recD.last(t))

	// a is still idle, untouched.
	require.Len(t, recA.events, 1)
	state, _ := e.State("a")
	assert.Equal(t, StateIdle, state)
}

func TestRequestPairingWhileWaitingIsRejected(t *testing.T) {
	e := newTestEngine(t)
	recX := register(t, e, "x")

	require.NoError(t, e.RequestPairing("x"))
	err := e.RequestPairing("x")
	require.ErrorIs(t, err, ErrInvalidState)

	// No duplicate waiting entry.
	assert.Equal(t, 1, e.Stats().Waiting)
	require.Len(t, recX.events, 1)
}

func TestRequestPairingWhilePairedIsRejected(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	register(t, e, "y")
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	err := e.RequestPairing("x")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, e.Stats().Sessions)
}

func TestRequestPairingUnknownConnection(t *testing.T) {
	e := newTestEngine(t)
	err := e.RequestPairing("ghost")
	require.ErrorIs(t, err, ErrUnknownConnection)
}

func TestCancelSearch(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")

	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.CancelSearch("x"))

	state, _ := e.State("x")
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, 0, e.Stats().Waiting)
}

func TestCancelSearchIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")

	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.CancelSearch("x"))
	require.NoError(t, e.CancelSearch("x"), "second cancel must be a silent no-op")
}

func TestCancelSearchWhilePairedIsRejected(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	register(t, e, "y")
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	err := e.CancelSearch("x")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, e.Stats().Sessions)
}

func TestCancelledSearcherNeverPairs(t *testing.T) {
	e := newTestEngine(t)
	recX := register(t, e, "x")
	recY := register(t, e, "y")

	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.CancelSearch("x"))
	require.NoError(t, e.RequestPairing("y"))

	// y becomes the sole waiter; x saw only the waiting event.
	assert.Equal(t, Waiting{}, recY.last(t))
	require.Len(t, recX.events, 1)
	assert.Equal(t, Waiting{}, recX.events[0])
}

func TestRelayForwardsVerbatimWithProvenance(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	recY := register(t, e, "y")
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	payload := json.RawMessage(`{"type":"offer","sdp":"s1"}`)
	require.NoError(t, e.Relay("x", SignalOffer, "", payload))

	got := recY.last(t)
	sig, ok := got.(Signal)
	require.True(t, ok, "expected Signal, got %T", got)
	assert.Equal(t, SignalOffer, sig.Kind)
	assert.Equal(t, "x", sig.SenderID)
	assert.JSONEq(t, string(payload), string(sig.Payload))
}

func TestRelayHonorsExplicitTarget(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	register(t, e, "y")
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	require.NoError(t, e.Relay("x", SignalCandidate, "y", json.RawMessage(`{"candidate":"c"}`)))

	err := e.Relay("x", SignalCandidate, "someone-else", json.RawMessage(`{"candidate":"c"}`))
	require.ErrorIs(t, err, ErrTargetMismatch)
}

func TestRelayWithoutSessionIsRoutingError(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")

	err := e.Relay("x", SignalOffer, "", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNotPaired)
	assert.Equal(t, uint64(1), e.Metrics().Get(metrics.RoutingError))
}

func TestRelayAfterPartnerDisconnectIsRoutingError(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	register(t, e, "y")
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	e.Unregister("y")

	err := e.Relay("x", SignalAnswer, "", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNotPaired)
}

func TestEndSessionNotifiesPartnerExactlyOnce(t *testing.T) {
	e := newTestEngine(t)
	recX := register(t, e, "x")
	recY := register(t, e, "y")
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	require.NoError(t, e.EndSession("x"))

	assert.Equal(t, PartnerDisconnected{PartnerID: "x"}, recY.last(t))
	var disconnects int
	for _, ev := range recY.events {
		if _, ok := ev.(PartnerDisconnected); ok {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)

	// The ender is never notified about its own action.
	for _, ev := range recX.events {
		_, ok := ev.(PartnerDisconnected)
		assert.False(t, ok, "ender received partner-disconnected")
	}

	for _, id := range []string{"x", "y"} {
		state, _ := e.State(id)
		assert.Equal(t, StateIdle, state, "state of %s", id)
	}
	assert.Equal(t, 0, e.Stats().Sessions)
}

func TestEndSessionWhileIdleIsRejected(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	err := e.EndSession("x")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDisconnectPurgesAllState(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	recY := register(t, e, "y")
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	e.Unregister("x")

	assert.False(t, e.Exists("x"))
	assert.Equal(t, PartnerDisconnected{PartnerID: "x"}, recY.last(t))

	stateY, ok := e.State("y")
	require.True(t, ok)
	assert.Equal(t, StateIdle, stateY, "survivor must not auto-requeue")
	assert.Equal(t, Stats{Connections: 1, Waiting: 0, Sessions: 0}, e.Stats())
}

func TestDisconnectWhileWaitingPurgesPoolEntry(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	recY := register(t, e, "y")

	require.NoError(t, e.RequestPairing("x"))
	e.Unregister("x")

	// y must not be paired with the departed x.
	require.NoError(t, e.RequestPairing("y"))
	assert.Equal(t, Waiting{}, recY.last(t))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "x")
	e.Unregister("x")
	e.Unregister("x")
	assert.Equal(t, 0, e.Stats().Connections)
}

func TestAtMostOneSessionPerConnection(t *testing.T) {
	e := newTestEngine(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		register(t, e, id)
	}
	require.NoError(t, e.RequestPairing("a"))
	require.NoError(t, e.RequestPairing("b"))
	require.NoError(t, e.RequestPairing("c"))
	require.NoError(t, e.RequestPairing("d"))

	assert.Equal(t, 2, e.Stats().Sessions)
	for _, id := range []string{"a", "b", "c", "d"} {
		state, _ := e.State(id)
		assert.Equal(t, StatePaired, state, "state of %s", id)
	}
}

func TestDeadPartnerNotifierTriggersDisconnectCascade(t *testing.T) {
	e := newTestEngine(t)
	recX := register(t, e, "x")
	recY := &recorder{}
	require.NoError(t, e.Register("y", recY))
	require.NoError(t, e.RequestPairing("x"))
	require.NoError(t, e.RequestPairing("y"))

	// y's transport dies: relaying to it drops y and tells x.
	recY.fail = true
	err := e.Relay("x", SignalOffer, "", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNotPaired)

	assert.False(t, e.Exists("y"))
	assert.Equal(t, PartnerDisconnected{PartnerID: "y"}, recX.last(t))
	stateX, _ := e.State("x")
	assert.Equal(t, StateIdle, stateX)
}

func TestIsolationBetweenSessions(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "a")
	register(t, e, "b")
	recC := register(t, e, "c")
	recD := register(t, e, "d")
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.RequestPairing(id))
	}

	// Tearing down {a,b} leaves {c,d} fully functional.
	e.Unregister("a")

	require.NoError(t, e.Relay("c", SignalOffer, "", json.RawMessage(`{"sdp":"x"}`)))
	sig, ok := recD.last(t).(Signal)
	require.True(t, ok)
	assert.Equal(t, "c", sig.SenderID)

	for _, ev := range recC.events {
		_, ok := ev.(PartnerDisconnected)
		assert.False(t, ok, "unrelated session saw a disconnect notification")
	}
}
