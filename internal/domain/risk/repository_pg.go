package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// PGRepository stores profiles in the risk_profiles table
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates a Postgres-backed profile repository
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a profile row
func (r *PGRepository) Create(ctx context.Context, p *Profile) error {
	input, err := json.Marshal(p.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	result, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		INSERT INTO risk_profiles
		(id, surgery_id, patient_id, assessed_by, input, result, final_score, incomplete, fitness_category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.SurgeryID,
		p.PatientID,
		p.AssessedBy,
		input,
		result,
		p.Result.Composite.FinalScore,
		p.Result.Composite.Incomplete,
		p.Result.Composite.FitnessCategory,
		p.CreatedAt,
	)
	return err
}

// LatestForSurgery returns the newest profile for surgeryID
func (r *PGRepository) LatestForSurgery(ctx context.Context, surgeryID string) (*Profile, error) {
	query := `
		SELECT id::text, surgery_id, patient_id, assessed_by, input, result, created_at
		FROM risk_profiles
		WHERE surgery_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	p := &Profile{}
	var input, result []byte
	err := r.pool.QueryRow(ctx, query, surgeryID).Scan(
		&p.ID, &p.SurgeryID, &p.PatientID, &p.AssessedBy, &input, &result, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("risk profile for surgery %s: %w", surgeryID, apperror.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(input, &p.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal(result, &p.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return p, nil
}
