// Package idempotency provides the Inbox pattern for exactly-once message handling.
// A message is claimed under (key, handler) before its handler runs, so a redelivered
// message is answered from the recorded result instead of being handled twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status represents the processing status of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// Entry is an idempotency inbox record
type Entry struct {
	Key       string
	Handler   string
	Status    Status
	Payload   json.RawMessage
	Result    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Store persists inbox entries
type Store interface {
	// Claim atomically marks (key, handler) STARTED. It succeeds for a new key, a
	// RECOVERABLE entry, or a STARTED entry last touched before staleBefore. When
	// the claim is refused the existing entry is returned.
	Claim(ctx context.Context, key, handler string, payload json.RawMessage, expiresAt, staleBefore time.Time) (bool, *Entry, error)
	Complete(ctx context.Context, key, handler string, status Status, result json.RawMessage) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config holds configuration for the inbox
type Config struct {
	// TTL is how long a finished entry keeps answering duplicates
	TTL time.Duration
	// CleanupInterval is how often expired entries are removed
	CleanupInterval time.Duration
	// StaleAfter is when a STARTED entry is considered abandoned by a crashed handler
	StaleAfter time.Duration
}

// DefaultConfig returns the defaults used by the escalation notifier
func DefaultConfig() Config {
	return Config{
		TTL:             7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		StaleAfter:      5 * time.Minute,
	}
}

// Inbox manages idempotent message processing
type Inbox struct {
	store  Store
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewInbox creates a new inbox manager
func NewInbox(store Store, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Inbox{
		store:  store,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		now:    time.Now,
	}
}

var (
	// ErrMessageInProgress indicates another handler instance holds the claim
	ErrMessageInProgress = errors.New("message in progress by another handler")
	// ErrPreviouslyFailed indicates the message failed permanently before
	ErrPreviouslyFailed = errors.New("message previously failed permanently")
)

// permanentError marks a handler failure that must not be retried
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the inbox records the message as FAILED instead of RECOVERABLE
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Result is the outcome of idempotent processing
type Result struct {
	IsNew  bool
	Result json.RawMessage
}

// HandlerFunc processes one claimed message
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Process runs fn at most once per (key, handler) to completion
func (i *Inbox) Process(ctx context.Context, key, handler string, payload json.RawMessage, fn HandlerFunc) (*Result, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handler),
		))
	defer span.End()

	now := i.now()
	claimed, existing, err := i.store.Claim(ctx, key, handler, payload, now.Add(i.config.TTL), now.Add(-i.config.StaleAfter))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("claim inbox entry: %w", err)
	}
	if !claimed {
		switch existing.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &Result{IsNew: false, Result: existing.Result}, nil
		case StatusFailed:
			return nil, fmt.Errorf("%s: %w", key, ErrPreviouslyFailed)
		default:
			return nil, fmt.Errorf("%s: %w", key, ErrMessageInProgress)
		}
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		span.RecordError(handlerErr)
		status := StatusRecoverable
		if IsPermanent(handlerErr) {
			status = StatusFailed
		}
		if err := i.store.Complete(ctx, key, handler, status, nil); err != nil {
			i.logger.Error("failed to record handler failure",
				zap.String("key", key),
				zap.String("handler", handler),
				zap.Error(err))
		}
		return nil, handlerErr
	}

	if err := i.store.Complete(ctx, key, handler, StatusFinished, result); err != nil {
		return nil, fmt.Errorf("mark inbox entry finished: %w", err)
	}
	return &Result{IsNew: true, Result: result}, nil
}

// RunCleanup removes expired entries every CleanupInterval until ctx is done
func (i *Inbox) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := i.store.DeleteExpired(ctx, i.now())
			if err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				i.logger.Info("cleaned up expired inbox entries", zap.Int64("count", n))
			}
		}
	}
}

// Key derives a deterministic idempotency key from its parts
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
