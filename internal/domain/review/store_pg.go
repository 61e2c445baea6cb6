package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/domain/prescription"
	"github.com/drfirst/go-periop/internal/infrastructure/postgres"
	"github.com/drfirst/go-periop/internal/infrastructure/redpanda"
)

const (
	decisionUniqueConstraint = "review_decisions_review_id_key"
	riskProfileFKConstraint  = "pre_anesthetic_reviews_risk_profile_id_fkey"
)

// PGStore persists reviews, decisions and their prescription effects
type PGStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore creates a Postgres review store
func NewPGStore(pool *pgxpool.Pool, logger *zap.Logger) *PGStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{pool: pool, logger: logger}
}

// Create inserts the review, its proposed prescription and events in one transaction
func (s *PGStore) Create(ctx context.Context, sub *Submission) error {
	r := sub.Review
	return postgres.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pre_anesthetic_reviews
			(id, surgery_id, patient_id, submitted_by, submitted_role, asa_class, airway_notes,
			 findings, risk_profile_id, prescription_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, NULLIF($9, '')::uuid, NULLIF($10, '')::uuid, $11, $12, $13)`,
			r.ID, r.SurgeryID, r.PatientID, r.SubmittedBy, r.SubmittedRole, r.Assessment.ASAClass,
			r.Assessment.AirwayNotes, nullJSON(r.Assessment.Findings), r.Assessment.RiskProfileID,
			r.PrescriptionID, r.Status, r.CreatedAt, r.UpdatedAt,
		)
		if postgres.IsForeignKeyViolation(err, riskProfileFKConstraint) {
			return apperror.Invalid("assessment.riskProfileId", "unknown risk profile")
		}
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}

		if sub.Prescription != nil {
			if err := prescription.InsertTx(ctx, tx, sub.Prescription); err != nil {
				return err
			}
		}
		return s.writeEvents(ctx, tx, sub.Events, sub.PrescriptionEvents)
	})
}

// Get loads one review
func (s *PGStore) Get(ctx context.Context, id string) (*Review, error) {
	return getReview(ctx, s.pool, id)
}

// Decision loads the decision for a review
func (s *PGStore) Decision(ctx context.Context, reviewID string) (*Decision, error) {
	if _, err := uuid.Parse(reviewID); err != nil {
		return nil, fmt.Errorf("decision for review %s: %w", reviewID, apperror.ErrNotFound)
	}
	d := &Decision{}
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, review_id::text, outcome, actor_id, actor_role, notes, reason,
		       COALESCE(replacement_prescription::text, ''), decided_at
		FROM review_decisions WHERE review_id = $1`, reviewID).Scan(
		&d.ID, &d.ReviewID, &d.Outcome, &d.ActorID, &d.ActorRole, &d.Notes, &d.Reason,
		&d.ReplacementPrescriptionID, &d.DecidedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decision for review %s: %w", reviewID, apperror.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query decision: %w", err)
	}
	return d, nil
}

// ApplyTransition commits a decision atomically. The conditional UPDATE is the
// race guard; the unique decision row is the second one.
func (s *PGStore) ApplyTransition(ctx context.Context, t *Transition) error {
	return postgres.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE pre_anesthetic_reviews
			SET status = $2, decided_by = $3, decided_at = $4, updated_at = $4
			WHERE id = $1 AND status = $5`,
			t.ReviewID, t.To, t.Decision.ActorID, t.At, StatusSubmitted)
		if err != nil {
			return fmt.Errorf("update review status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			current, err := getReview(ctx, tx, t.ReviewID)
			if err != nil {
				return err
			}
			return fmt.Errorf("review %s is %s: %w", t.ReviewID, current.Status, apperror.ErrConflict)
		}

		if err := insertDecision(ctx, tx, t); err != nil {
			return err
		}

		rxEvents := t.PrescriptionEvents
		if t.ReleasePrescriptionID != "" {
			p, err := prescription.ReleaseTx(ctx, tx, t.ReleasePrescriptionID, t.At)
			if err != nil {
				return err
			}
			released, err := prescription.Released(p)
			if err != nil {
				return err
			}
			released.WithActor(t.Decision.ActorID, string(t.Decision.ActorRole), p.SurgeryID)
			rxEvents = append(rxEvents, released)
		}

		if t.Replacement != nil {
			if err := prescription.InsertTx(ctx, tx, t.Replacement); err != nil {
				return err
			}
			if t.SupersedePrescriptionID != "" {
				if err := prescription.SupersedeTx(ctx, tx, t.SupersedePrescriptionID, t.Replacement.ID, t.At); err != nil {
					return err
				}
			}
		}

		return s.writeEvents(ctx, tx, t.Events, rxEvents)
	})
}

func insertDecision(ctx context.Context, tx pgx.Tx, t *Transition) error {
	replacement := ""
	if t.Replacement != nil {
		replacement = t.Replacement.ID
	}
	d := t.Decision
	_, err := tx.Exec(ctx, `
		INSERT INTO review_decisions
		(id, review_id, outcome, actor_id, actor_role, notes, reason, replacement_prescription, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::uuid, $9)`,
		d.ID, d.ReviewID, d.Outcome, d.ActorID, d.ActorRole, d.Notes, d.Reason, replacement, d.DecidedAt,
	)
	if postgres.IsUniqueViolation(err, decisionUniqueConstraint) {
		return fmt.Errorf("review %s already decided: %w", d.ReviewID, apperror.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PGStore) writeEvents(ctx context.Context, tx pgx.Tx, events []*Event, rxEvents []*prescription.Event) error {
	for _, e := range events {
		entry, err := postgres.NewEntry(redpanda.TopicReviewEvents, e.AggregateType, e.AggregateID, string(e.EventType), e)
		if err != nil {
			return err
		}
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	for _, e := range rxEvents {
		if err := prescription.WriteEventTx(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

func getReview(ctx context.Context, q prescription.Querier, id string) (*Review, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("review %s: %w", id, apperror.ErrNotFound)
	}
	r := &Review{}
	var asa *int16
	var findings []byte
	err := q.QueryRow(ctx, `
		SELECT id::text, surgery_id, patient_id, submitted_by, submitted_role, asa_class, airway_notes,
		       findings, COALESCE(risk_profile_id::text, ''), COALESCE(prescription_id::text, ''),
		       status, COALESCE(decided_by, ''), decided_at, created_at, updated_at
		FROM pre_anesthetic_reviews WHERE id = $1`, id).Scan(
		&r.ID, &r.SurgeryID, &r.PatientID, &r.SubmittedBy, &r.SubmittedRole, &asa, &r.Assessment.AirwayNotes,
		&findings, &r.Assessment.RiskProfileID, &r.PrescriptionID,
		&r.Status, &r.DecidedBy, &r.DecidedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("review %s: %w", id, apperror.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query review: %w", err)
	}
	if asa != nil {
		r.Assessment.ASAClass = int(*asa)
	}
	r.Assessment.Findings = findings
	return r, nil
}

func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
