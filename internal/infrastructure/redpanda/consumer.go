package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig holds configuration for a consumer group member
type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topics         []string
	SessionTimeout time.Duration
	MaxPollRecords int
	// HandlerRetries is how often a failing record is retried before it is skipped
	HandlerRetries int
	RetryBackoff   time.Duration
	// StartOffset is "earliest" or "latest" for groups without committed offsets
	StartOffset string
}

// DefaultConsumerConfig returns defaults for the escalation notifier group
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "escalation-notifier",
		Topics:         []string{TopicEscalationAlerts},
		SessionTimeout: 30 * time.Second,
		MaxPollRecords: 100,
		HandlerRetries: 5,
		RetryBackoff:   500 * time.Millisecond,
		StartOffset:    "earliest",
	}
}

// Message is a consumed record
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer reads a consumer group's records and commits after handling
type Consumer struct {
	client  *kgo.Client
	config  ConsumerConfig
	handler MessageHandler
	logger  *zap.Logger
	tracer  trace.Tracer

	handled atomic.Int64
	skipped atomic.Int64
}

// NewConsumer creates a new Redpanda consumer
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("group id and topics are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	}
	if cfg.StartOffset == "latest" {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Consumer{
		client:  client,
		config:  cfg,
		handler: handler,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
	}, nil
}

// Run polls until ctx is done, then commits marked offsets and closes the client
func (c *Consumer) Run(ctx context.Context) error {
	defer c.close()

	for {
		fetches := c.client.PollRecords(ctx, c.config.MaxPollRecords)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		fetches.EachRecord(func(record *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			c.handle(ctx, record)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err := c.client.CommitMarkedOffsets(ctx); err != nil {
			c.logger.Error("failed to commit offsets", zap.Error(err))
		}
	}
}

// handle retries the handler with linear backoff and marks the record either way.
// A record that still fails after HandlerRetries is logged and skipped so one
// poisoned message cannot stall its partition.
func (c *Consumer) handle(ctx context.Context, record *kgo.Record) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{record})
	ctx, span := c.tracer.Start(ctx, "process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	msg := &Message{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	var err error
	for attempt := 0; attempt <= c.config.HandlerRetries; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			break
		}
		c.logger.Warn("message handler failed",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt == c.config.HandlerRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryBackoff * time.Duration(attempt+1)):
		}
	}

	if err != nil {
		span.RecordError(err)
		c.skipped.Add(1)
		c.logger.Error("skipping message after retries",
			zap.String("topic", record.Topic),
			zap.Int32("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
	} else {
		c.handled.Add(1)
	}
	c.client.MarkCommitRecords(record)
}

func (c *Consumer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Warn("error committing offsets on stop", zap.Error(err))
	}
	c.client.Close()
}

// ConsumerStats holds consumer counters
type ConsumerStats struct {
	Handled int64 `json:"handled"`
	Skipped int64 `json:"skipped"`
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{Handled: c.handled.Load(), Skipped: c.skipped.Load()}
}
