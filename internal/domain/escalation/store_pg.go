package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/infrastructure/postgres"
	"github.com/drfirst/go-periop/internal/infrastructure/redpanda"
)

// PGStore persists escalation state in Postgres
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres escalation store
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Record flips the episode flag with one conditional upsert. When once is set the
// upsert only matches an entity that is not already escalated, so concurrent
// triggers for the same open episode yield a single alert.
func (s *PGStore) Record(ctx context.Context, alert *Alert, once bool) (bool, error) {
	recorded := false
	err := postgres.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var entityID string
		err := tx.QueryRow(ctx, `
			INSERT INTO escalation_episodes (entity_type, entity_id, surgery_id, escalated, escalated_at)
			VALUES ($1, $2, $3, TRUE, $4)
			ON CONFLICT (entity_type, entity_id) DO UPDATE
			SET escalated    = TRUE,
			    escalated_at = CASE WHEN escalation_episodes.escalated
			                        THEN escalation_episodes.escalated_at ELSE EXCLUDED.escalated_at END,
			    resolved_at  = CASE WHEN escalation_episodes.escalated
			                        THEN escalation_episodes.resolved_at ELSE NULL END
			WHERE NOT $5::boolean OR NOT escalation_episodes.escalated
			RETURNING entity_id`,
			alert.EntityType, alert.EntityID, alert.SurgeryID, alert.CreatedAt, once,
		).Scan(&entityID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("upsert episode: %w", err)
		}

		recipients := make([]string, len(alert.Recipients))
		for i, r := range alert.Recipients {
			recipients[i] = string(r)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO escalation_alerts
			(id, entity_type, entity_id, surgery_id, trigger_type, severity, description, recipients, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			alert.ID, alert.EntityType, alert.EntityID, alert.SurgeryID, alert.TriggerType,
			alert.Severity, alert.Description, recipients, alert.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}

		entry, err := postgres.NewEntry(redpanda.TopicEscalationAlerts, "EscalationAlert", alert.ID, "EscalationRaised", alert)
		if err != nil {
			return err
		}
		// partition by entity so alerts for one item stay ordered
		entry.KafkaKey = string(alert.EntityType) + ":" + alert.EntityID
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	return recorded, err
}

// Resolve clears the escalated flag
func (s *PGStore) Resolve(ctx context.Context, entityType EntityType, entityID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE escalation_episodes SET escalated = FALSE, resolved_at = $3
		WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID, at)
	if err != nil {
		return fmt.Errorf("resolve episode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %s/%s: %w", entityType, entityID, apperror.ErrNotFound)
	}
	return nil
}

// Episode loads the episode state of an entity
func (s *PGStore) Episode(ctx context.Context, entityType EntityType, entityID string) (*Episode, error) {
	ep := &Episode{}
	err := s.pool.QueryRow(ctx, `
		SELECT entity_type, entity_id, surgery_id, escalated, escalated_at, resolved_at
		FROM escalation_episodes WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID).Scan(
		&ep.EntityType, &ep.EntityID, &ep.SurgeryID, &ep.Escalated, &ep.EscalatedAt, &ep.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("episode %s/%s: %w", entityType, entityID, apperror.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query episode: %w", err)
	}
	return ep, nil
}

// Alerts lists an entity's alerts oldest first
func (s *PGStore) Alerts(ctx context.Context, entityType EntityType, entityID string) ([]*Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, entity_type, entity_id, surgery_id, trigger_type, severity, description, recipients, created_at
		FROM escalation_alerts
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Alert, error) {
		a := &Alert{}
		var recipients []string
		if err := row.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.SurgeryID, &a.TriggerType,
			&a.Severity, &a.Description, &recipients, &a.CreatedAt); err != nil {
			return nil, err
		}
		for _, r := range recipients {
			a.Recipients = append(a.Recipients, Recipient(r))
		}
		return a, nil
	})
}
