// Package notifier turns escalation alerts read from the broker into one
// outbound message per recipient role. Delivery itself is left to whichever
// channel consumes the outbound topic.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/escalation"
	"github.com/drfirst/go-periop/internal/infrastructure/redpanda"
	"github.com/drfirst/go-periop/pkg/circuitbreaker"
	"github.com/drfirst/go-periop/pkg/idempotency"
	"github.com/drfirst/go-periop/pkg/workerpool"
)

// HandlerName identifies the notifier's claims in the idempotency inbox
const HandlerName = "escalation-notifier"

// Publisher writes one record to the broker
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Deduper runs a handler at most once per key
type Deduper interface {
	Process(ctx context.Context, key, handler string, payload json.RawMessage, fn idempotency.HandlerFunc) (*idempotency.Result, error)
}

// Metrics receives per-notification outcomes
type Metrics interface {
	NotificationPublished(recipient string, err error)
}

type noopMetrics struct{}

func (noopMetrics) NotificationPublished(string, error) {}

// Config holds dispatcher configuration
type Config struct {
	Topic string
	Pool  workerpool.Config
}

// DefaultConfig returns the dispatcher defaults
func DefaultConfig() Config {
	return Config{
		Topic: redpanda.TopicNotificationsOutbound,
		Pool:  workerpool.DefaultConfig(),
	}
}

// Dispatcher fans alerts out to recipients
type Dispatcher struct {
	inbox     Deduper
	publisher Publisher
	breakers  *circuitbreaker.Manager
	pool      *workerpool.Pool
	topic     string
	metrics   Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewDispatcher creates a dispatcher and its worker pool. Call Start before Handle.
func NewDispatcher(inbox Deduper, publisher Publisher, breakers *circuitbreaker.Manager, cfg Config, metrics Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.Topic == "" {
		cfg.Topic = redpanda.TopicNotificationsOutbound
	}
	d := &Dispatcher{
		inbox:     inbox,
		publisher: publisher,
		breakers:  breakers,
		topic:     cfg.Topic,
		metrics:   metrics,
		logger:    logger,
		tracer:    otel.Tracer("escalation-notifier"),
	}
	pool, err := workerpool.New(cfg.Pool, d.send, logger.Named("pool"))
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Start launches the fan-out workers
func (d *Dispatcher) Start() { d.pool.Start() }

// Stop drains in-flight notifications
func (d *Dispatcher) Stop() error { return d.pool.Stop() }

// Stats exposes the worker pool counters
func (d *Dispatcher) Stats() workerpool.Stats { return d.pool.Stats() }

type outcome struct {
	Sent int `json:"sent"`
}

// Handle processes one alert record. Redelivered alerts are answered from the
// inbox; malformed records are dropped.
func (d *Dispatcher) Handle(ctx context.Context, msg *redpanda.Message) error {
	var alert escalation.Alert
	if err := json.Unmarshal(msg.Value, &alert); err != nil || alert.ID == "" {
		d.logger.Error("dropping malformed alert record",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "dispatch_alert",
		trace.WithAttributes(
			attribute.String("alert_id", alert.ID),
			attribute.Int("recipients", len(alert.Recipients)),
		))
	defer span.End()

	res, err := d.inbox.Process(ctx, alert.ID, HandlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		sent, err := d.fanOut(ctx, &alert)
		if err != nil {
			return nil, err
		}
		return json.Marshal(outcome{Sent: sent})
	})
	if errors.Is(err, idempotency.ErrPreviouslyFailed) {
		d.logger.Warn("alert previously failed permanently", zap.String("alert_id", alert.ID))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !res.IsNew {
		span.SetAttributes(attribute.Bool("duplicate", true))
		d.logger.Debug("alert already dispatched", zap.String("alert_id", alert.ID))
		return nil
	}
	d.logger.Info("alert dispatched",
		zap.String("alert_id", alert.ID),
		zap.String("entity_id", alert.EntityID),
		zap.String("severity", string(alert.Severity)),
		zap.Int("recipients", len(alert.Recipients)))
	return nil
}

// fanOut publishes every recipient's notification. Any failure fails the whole
// alert so the inbox lets a redelivery retry it.
func (d *Dispatcher) fanOut(ctx context.Context, alert *escalation.Alert) (int, error) {
	notes := escalation.Notifications(alert)
	tasks := make([]workerpool.Task, len(notes))
	for i := range notes {
		tasks[i] = workerpool.Task{ID: alert.ID + ":" + string(notes[i].Recipient), Payload: notes[i]}
	}
	results, err := d.pool.Run(ctx, tasks)
	if err != nil {
		return 0, err
	}
	var failed []error
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", r.TaskID, r.Err))
		}
	}
	if len(failed) > 0 {
		return 0, errors.Join(failed...)
	}
	return len(results), nil
}

func (d *Dispatcher) send(ctx context.Context, task workerpool.Task) error {
	n, ok := task.Payload.(escalation.Notification)
	if !ok {
		return fmt.Errorf("unexpected task payload %T", task.Payload)
	}
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	breaker, err := d.breakers.For(d.topic)
	if err != nil {
		return err
	}
	err = breaker.Do(ctx, func(ctx context.Context) error {
		return d.publisher.Publish(ctx, d.topic, task.ID, value)
	})
	d.metrics.NotificationPublished(string(n.Recipient), err)
	return err
}
