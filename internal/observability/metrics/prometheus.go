// Package metrics provides Prometheus metrics for the perioperative services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-periop/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	HTTPRequests           *prometheus.CounterVec
	HTTPDuration           *prometheus.HistogramVec
	RiskAssessments        *prometheus.CounterVec
	ReviewDecisions        *prometheus.CounterVec
	PrescriptionTransition *prometheus.CounterVec
	EscalationAlerts       *prometheus.CounterVec
	OutboxPublishes        *prometheus.CounterVec
	OutboxPendingEntries   prometheus.Gauge
	NotificationsPublished *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "periop_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "periop_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
		RiskAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "periop_risk_assessments_total",
			Help: "Risk profiles computed, by completeness",
		}, []string{"complete"}),
		ReviewDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "periop_review_decisions_total",
			Help: "Review decision attempts by outcome",
		}, []string{"outcome"}),
		PrescriptionTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "periop_prescription_transitions_total",
			Help: "Pharmacy status transitions by target status",
		}, []string{"status"}),
		EscalationAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "periop_escalation_alerts_total",
			Help: "Escalation alerts raised by entity type",
		}, []string{"entity_type"}),
		OutboxPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "periop_outbox_published_total",
			Help: "Outbox entries published by topic and result",
		}, []string{"topic", "result"}),
		OutboxPendingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "periop_outbox_pending_entries",
			Help: "Outbox entries awaiting publication",
		}),
		NotificationsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "periop_notifications_published_total",
			Help: "Per-recipient notifications by result",
		}, []string{"recipient", "result"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "periop_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.RiskAssessments,
		m.ReviewDecisions,
		m.PrescriptionTransition,
		m.EscalationAlerts,
		m.OutboxPublishes,
		m.OutboxPendingEntries,
		m.NotificationsPublished,
		m.CircuitBreakerState,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveHTTP records one finished request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// OutboxPublished satisfies postgres.RelayMetrics
func (m *Metrics) OutboxPublished(topic string, err error) {
	m.OutboxPublishes.WithLabelValues(topic, result(err)).Inc()
}

// OutboxPending satisfies postgres.RelayMetrics
func (m *Metrics) OutboxPending(n int64) {
	m.OutboxPendingEntries.Set(float64(n))
}

// NotificationPublished satisfies notifier.Metrics
func (m *Metrics) NotificationPublished(recipient string, err error) {
	m.NotificationsPublished.WithLabelValues(recipient, result(err)).Inc()
}

// BreakerStateHook exports breaker transitions to the state gauge
func (m *Metrics) BreakerStateHook() circuitbreaker.StateHook {
	return func(name string, to circuitbreaker.State) {
		v := 0.0
		switch to {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.CircuitBreakerState.WithLabelValues(name).Set(v)
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RiskAssessed counts a stored risk profile
func (m *Metrics) RiskAssessed(complete bool) {
	m.RiskAssessments.WithLabelValues(strconv.FormatBool(complete)).Inc()
}

// ReviewDecided counts a decision attempt: approved, rejected or conflict
func (m *Metrics) ReviewDecided(outcome string) {
	m.ReviewDecisions.WithLabelValues(outcome).Inc()
}

// PrescriptionAdvanced counts a pharmacy transition
func (m *Metrics) PrescriptionAdvanced(status string) {
	m.PrescriptionTransition.WithLabelValues(status).Inc()
}

// AlertsRaised counts recorded escalation alerts
func (m *Metrics) AlertsRaised(entityType string, n int) {
	if n > 0 {
		m.EscalationAlerts.WithLabelValues(entityType).Add(float64(n))
	}
}
