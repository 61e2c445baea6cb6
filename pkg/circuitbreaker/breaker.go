// Package circuitbreaker guards calls to downstream brokers with sony/gobreaker,
// reporting outcomes through OpenTelemetry and state changes through a hook.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned while the breaker rejects calls
var ErrOpen = errors.New("circuit open")

// Config holds circuit breaker configuration
type Config struct {
	// MaxRequests is how many probe calls half-open lets through
	MaxRequests uint32
	// Interval clears the closed-state counts; zero never clears
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// FailureThreshold trips on consecutive failures while traffic is below MinRequests
	FailureThreshold uint32
	// FailureRatio trips once MinRequests calls have been seen
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns defaults for publishing notifications to the broker
func DefaultConfig() Config {
	return Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      20,
	}
}

// StateHook observes breaker transitions, e.g. to export a gauge
type StateHook func(name string, to State)

// Breaker wraps gobreaker with tracing and outcome counters
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer
	calls  metric.Int64Counter
}

// New creates a breaker named name
func New(name string, cfg Config, hook StateHook, logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	calls, err := otel.Meter("circuit-breaker").Int64Counter("circuit_breaker_calls_total",
		metric.WithDescription("Calls through a circuit breaker by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call counter: %w", err)
	}

	b := &Breaker{
		name:   name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
		calls:  calls,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", string(mapState(from))),
				zap.String("to", string(mapState(to))))
			if hook != nil {
				hook(name, mapState(to))
			}
		},
	})
	return b, nil
}

// Do runs fn unless the breaker is open. Rejections wrap ErrOpen.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := b.tracer.Start(ctx, "circuit_breaker_do",
		trace.WithAttributes(attribute.String("breaker", b.name)))
	defer span.End()

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	outcome := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
		span.SetAttributes(attribute.Bool("circuit_open", true))
		err = fmt.Errorf("%s: %w", b.name, ErrOpen)
	case err != nil:
		outcome = "failure"
		span.RecordError(err)
	}
	b.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", b.name),
		attribute.String("outcome", outcome)))
	return err
}

// State returns the current breaker state
func (b *Breaker) State() State {
	return mapState(b.cb.State())
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Manager hands out one breaker per downstream target
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
	hook     StateHook
	logger   *zap.Logger
}

// NewManager creates a manager whose breakers share cfg and hook
func NewManager(cfg Config, hook StateHook, logger *zap.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		hook:     hook,
		logger:   logger,
	}
}

// For returns the breaker for name, creating it on first use
func (m *Manager) For(name string) (*Breaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b, nil
	}
	b, err := New(name, m.cfg, m.hook, m.logger)
	if err != nil {
		return nil, err
	}
	m.breakers[name] = b
	return b, nil
}

// HealthStatus is one breaker's state
type HealthStatus struct {
	Name    string `json:"name"`
	State   State  `json:"state"`
	Healthy bool   `json:"healthy"`
}

// Health reports every breaker, sorted by name
func (m *Manager) Health() []HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HealthStatus, 0, len(m.breakers))
	for name, b := range m.breakers {
		st := b.State()
		out = append(out, HealthStatus{Name: name, State: st, Healthy: st == StateClosed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
