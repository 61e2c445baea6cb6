package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps inbox entries in the inbox table
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres inbox store
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Claim inserts a STARTED entry or takes over a retryable one in a single statement
func (s *PGStore) Claim(ctx context.Context, key, handler string, payload json.RawMessage, expiresAt, staleBefore time.Time) (bool, *Entry, error) {
	var claimedKey string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, 'STARTED', $3, $4)
		ON CONFLICT (idempotency_key, handler_name) DO UPDATE
		SET status = 'STARTED', updated_at = NOW(), expires_at = EXCLUDED.expires_at
		WHERE inbox.status = 'RECOVERABLE'
		   OR (inbox.status = 'STARTED' AND inbox.updated_at < $5)
		RETURNING idempotency_key`,
		key, handler, payload, expiresAt, staleBefore,
	).Scan(&claimedKey)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, fmt.Errorf("claim: %w", err)
	}

	entry := &Entry{}
	err = s.pool.QueryRow(ctx, `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox WHERE idempotency_key = $1 AND handler_name = $2`, key, handler,
	).Scan(&entry.Key, &entry.Handler, &entry.Status, &entry.Payload, &entry.Result,
		&entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt)
	if err != nil {
		return false, nil, fmt.Errorf("load existing entry: %w", err)
	}
	return false, entry, nil
}

// Complete records the final status and result of a claimed entry
func (s *PGStore) Complete(ctx context.Context, key, handler string, status Status, result json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbox SET status = $3, result = $4, updated_at = NOW()
		WHERE idempotency_key = $1 AND handler_name = $2`,
		key, handler, status, result)
	if err != nil {
		return fmt.Errorf("complete entry: %w", err)
	}
	return nil
}

// DeleteExpired removes entries whose TTL has passed
func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats are inbox entry counts by status
type Stats struct {
	Total       int64 `json:"total"`
	Started     int64 `json:"started"`
	Finished    int64 `json:"finished"`
	Recoverable int64 `json:"recoverable"`
	Failed      int64 `json:"failed"`
}

// Stats returns current inbox statistics
func (s *PGStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'STARTED'),
			COUNT(*) FILTER (WHERE status = 'FINISHED'),
			COUNT(*) FILTER (WHERE status = 'RECOVERABLE'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM inbox`).Scan(&st.Total, &st.Started, &st.Finished, &st.Recoverable, &st.Failed)
	if err != nil {
		return nil, err
	}
	return st, nil
}
