package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drfirst/go-periop/pkg/circuitbreaker"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestRelayAndNotifierObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OutboxPublished("periop.review.events", nil)
	m.OutboxPublished("periop.review.events", errors.New("down"))
	m.OutboxPending(7)
	m.NotificationPublished("THEATRE_MANAGER", nil)

	if v := counterValue(t, reg, "periop_outbox_published_total", map[string]string{"result": "error"}); v != 1 {
		t.Errorf("expected 1 failed publish, got %v", v)
	}
	if v := counterValue(t, reg, "periop_outbox_pending_entries", nil); v != 7 {
		t.Errorf("expected pending 7, got %v", v)
	}
	if v := counterValue(t, reg, "periop_notifications_published_total", map[string]string{"recipient": "THEATRE_MANAGER"}); v != 1 {
		t.Errorf("expected 1 notification, got %v", v)
	}
}

func TestBreakerStateHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	hook := m.BreakerStateHook()

	hook("notifications", circuitbreaker.StateOpen)
	if v := counterValue(t, reg, "periop_circuit_breaker_state", map[string]string{"name": "notifications"}); v != 1 {
		t.Errorf("expected open gauge 1, got %v", v)
	}
	hook("notifications", circuitbreaker.StateClosed)
	if v := counterValue(t, reg, "periop_circuit_breaker_state", map[string]string{"name": "notifications"}); v != 0 {
		t.Errorf("expected closed gauge 0, got %v", v)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveHTTP(http.MethodPost, "/reviews/{id}/approve", http.StatusConflict, 12*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `periop_http_requests_total{method="POST",route="/reviews/{id}/approve",status="409"} 1`) {
		t.Errorf("request counter missing from exposition:\n%s", rec.Body.String())
	}
}
