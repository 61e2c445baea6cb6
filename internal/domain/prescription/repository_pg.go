package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/infrastructure/postgres"
	"github.com/drfirst/go-periop/internal/infrastructure/redpanda"
)

const selectColumns = `
	SELECT id::text, review_id::text, surgery_id, patient_id, medications, status, urgency,
	       special_instructions, COALESCE(supersedes::text, ''), COALESCE(superseded_by::text, ''),
	       created_by, created_at, updated_at
	FROM prescriptions
`

// PGRepository stores prescriptions in Postgres
type PGRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGRepository creates a new repository
func NewPGRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGRepository{pool: pool, logger: logger}
}

// Get loads one prescription
func (r *PGRepository) Get(ctx context.Context, id string) (*Prescription, error) {
	return GetTx(ctx, r.pool, id)
}

// ListVisible returns prescriptions in APPROVED_FOR_PACKING, oldest first
func (r *PGRepository) ListVisible(ctx context.Context, filter QueueFilter) ([]*Prescription, error) {
	query := selectColumns + `
		WHERE status = $1
		  AND ($2 = '' OR urgency = $2)
		  AND ($3 = '' OR surgery_id = $3)
		ORDER BY created_at ASC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, StatusApprovedForPacking, string(filter.Urgency), filter.SurgeryID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var list []*Prescription
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// UpdateStatus performs the pharmacy compare-and-set and enqueues the event
func (r *PGRepository) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time, event *Event) error {
	return postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE prescriptions SET status = $3, updated_at = $4
			WHERE id = $1 AND status = $2`, id, from, to, at)
		if err != nil {
			return fmt.Errorf("update prescription status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := GetTx(ctx, tx, id); err != nil {
				return err
			}
			return fmt.Errorf("prescription %s no longer %s: %w", id, from, apperror.ErrConflict)
		}
		return WriteEventTx(ctx, tx, event)
	})
}

// Querier is the read surface shared by pools and transactions
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetTx loads one prescription through q
func GetTx(ctx context.Context, q Querier, id string) (*Prescription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("prescription %s: %w", id, apperror.ErrNotFound)
	}
	p, err := scan(q.QueryRow(ctx, selectColumns+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("prescription %s: %w", id, apperror.ErrNotFound)
	}
	return p, err
}

// InsertTx stores a new prescription inside tx
func InsertTx(ctx context.Context, tx pgx.Tx, p *Prescription) error {
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return fmt.Errorf("marshal medications: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO prescriptions
		(id, review_id, surgery_id, patient_id, medications, status, urgency,
		 special_instructions, supersedes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::uuid, $10, $11, $12)`,
		p.ID, p.ReviewID, p.SurgeryID, p.PatientID, meds, p.Status, p.Urgency,
		p.SpecialInstructions, p.Supersedes, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

// ReleaseTx moves a pending prescription into the pharmacy queue
func ReleaseTx(ctx context.Context, tx pgx.Tx, id string, at time.Time) (*Prescription, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE prescriptions SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`, id, StatusApprovedForPacking, at, StatusPendingApproval)
	if err != nil {
		return nil, fmt.Errorf("release prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("prescription %s not pending approval: %w", id, apperror.ErrConflict)
	}
	return GetTx(ctx, tx, id)
}

// SupersedeTx links the original to its replacement. The original keeps its status
// and is never deleted.
func SupersedeTx(ctx context.Context, tx pgx.Tx, originalID, replacementID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE prescriptions SET superseded_by = $2, updated_at = $3
		WHERE id = $1 AND superseded_by IS NULL AND status = $4`,
		originalID, replacementID, at, StatusPendingApproval)
	if err != nil {
		return fmt.Errorf("supersede prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prescription %s already superseded or released: %w", originalID, apperror.ErrConflict)
	}
	return nil
}

// WriteEventTx enqueues e on the outbox within tx
func WriteEventTx(ctx context.Context, tx pgx.Tx, e *Event) error {
	if e == nil {
		return nil
	}
	topic := redpanda.TopicPharmacyQueue
	if e.EventType == EventPrescriptionProposed {
		topic = redpanda.TopicReviewEvents
	}
	entry, err := postgres.NewEntry(topic, e.AggregateType, e.AggregateID, string(e.EventType), e)
	if err != nil {
		return err
	}
	return postgres.WriteEntry(ctx, tx, entry)
}

func scan(row pgx.Row) (*Prescription, error) {
	p := &Prescription{}
	var meds []byte
	err := row.Scan(
		&p.ID, &p.ReviewID, &p.SurgeryID, &p.PatientID, &meds, &p.Status, &p.Urgency,
		&p.SpecialInstructions, &p.Supersedes, &p.SupersededBy,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meds, &p.Medications); err != nil {
		return nil, fmt.Errorf("unmarshal medications: %w", err)
	}
	return p, nil
}
