package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := New()
	m.Inc(PairMatched)
	m.Inc(PairMatched)
	m.Inc(RoutingError)

	if got := m.Get(PairMatched); got != 2 {
		t.Fatalf("Get(%s)=%d, want 2", PairMatched, got)
	}
	if got := m.Get("unknown"); got != 0 {
		t.Fatalf("Get(unknown)=%d, want 0", got)
	}

	snap := m.Snapshot()
	if snap[RoutingError] != 1 {
		t.Fatalf("Snapshot[%s]=%d, want 1", RoutingError, snap[RoutingError])
	}

	// Mutating the snapshot must not affect the registry.
	snap[PairMatched] = 99
	if got := m.Get(PairMatched); got != 2 {
		t.Fatalf("Get(%s)=%d after snapshot mutation, want 2", PairMatched, got)
	}
}

func TestPrometheusHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Inc(SearchRequested)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	body := rec.Body.String()
	want := `pairlink_relay_events_total{event="search_requested"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("body missing %q:\n%s", want, body)
	}
	if !strings.Contains(body, "# TYPE pairlink_relay_events_total counter") {
		t.Fatalf("body missing TYPE line:\n%s", body)
	}
}

func TestPrometheusHandlerNilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 500 {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}
