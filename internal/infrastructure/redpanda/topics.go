// Package redpanda provides topic provisioning and admin queries.
package redpanda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names used by the perioperative services
const (
	TopicReviewEvents          = "periop.review.events"
	TopicPharmacyQueue         = "periop.pharmacy.queue"
	TopicEscalationAlerts      = "periop.escalation.alerts"
	TopicNotificationsOutbound = "periop.notifications.outbound"
	TopicAuditTrail            = "audit.trail"
	TopicDeadLetter            = "dead.letter"
)

// TopicConfig holds configuration for a Kafka topic
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

const (
	retentionDay   = "86400000"
	retentionWeek  = "604800000"
	retentionMonth = "2592000000" // audit retention
)

func topic(name string, partitions int32, retention string) TopicConfig {
	ptr := func(s string) *string { return &s }
	return TopicConfig{
		Name:              name,
		Partitions:        partitions,
		ReplicationFactor: 1, // 3 in production
		Configs: map[string]*string{
			"retention.ms":     ptr(retention),
			"cleanup.policy":   ptr("delete"),
			"compression.type": ptr("lz4"),
		},
	}
}

// DefaultTopicConfigs returns the topic layout. Keys are review, prescription or
// entity ids so per-entity ordering holds within a partition.
func DefaultTopicConfigs() []TopicConfig {
	return []TopicConfig{
		topic(TopicReviewEvents, 6, retentionWeek),
		topic(TopicPharmacyQueue, 6, retentionWeek),
		topic(TopicEscalationAlerts, 3, retentionWeek),
		topic(TopicNotificationsOutbound, 6, retentionDay),
		topic(TopicAuditTrail, 3, retentionMonth),
		topic(TopicDeadLetter, 3, retentionWeek),
	}
}

// Admin provisions topics and reads consumer group lag
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger}, nil
}

// CreateTopics creates the given topics, skipping ones that already exist
func (a *Admin) CreateTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if errors.Is(r.Err, kerr.TopicAlreadyExists) {
				a.logger.Debug("topic already exists", zap.String("topic", r.Topic))
				continue
			}
			if r.Err != nil {
				return fmt.Errorf("failed to create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// EnsureTopics creates every topic in DefaultTopicConfigs
func (a *Admin) EnsureTopics(ctx context.Context) error {
	return a.CreateTopics(ctx, DefaultTopicConfigs())
}

// GroupLag returns the summed lag of groupID across its assigned partitions
func (a *Admin) GroupLag(ctx context.Context, groupID string) (int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to get consumer group lag: %w", err)
	}
	var total int64
	described.Each(func(l kadm.DescribedGroupLag) {
		total += l.Lag.Total()
	})
	return total, nil
}

// Close closes the admin client
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
