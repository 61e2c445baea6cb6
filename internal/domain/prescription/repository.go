package prescription

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/actor"
	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// QueueFilter narrows the pharmacy queue
type QueueFilter struct {
	Urgency   Urgency
	SurgeryID string
	Limit     int
}

// Repository persists prescriptions
type Repository interface {
	Get(ctx context.Context, id string) (*Prescription, error)
	ListVisible(ctx context.Context, filter QueueFilter) ([]*Prescription, error)
	// UpdateStatus moves id from one status to another only if it is still in from.
	// It returns apperror.ErrConflict when the stored status differs.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time, event *Event) error
}

// Service exposes the gate to the pharmacy collaborator
type Service struct {
	repo   Repository
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a prescription service
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("prescription-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns one prescription regardless of visibility
func (s *Service) Get(ctx context.Context, id string) (*Prescription, error) {
	return s.repo.Get(ctx, id)
}

// Queue returns the prescriptions currently visible to pharmacy
func (s *Service) Queue(ctx context.Context, filter QueueFilter) ([]*Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "pharmacy_queue",
		trace.WithAttributes(attribute.String("urgency", string(filter.Urgency))))
	defer span.End()

	if filter.Urgency != "" && !filter.Urgency.Valid() {
		return nil, apperror.Invalid("urgency", fmt.Sprintf("unknown urgency %q", filter.Urgency))
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 500
	}

	list, err := s.repo.ListVisible(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list pharmacy queue: %w", err)
	}

	visible := list[:0]
	for _, p := range list {
		if Visible(p) {
			visible = append(visible, p)
		}
	}
	span.SetAttributes(attribute.Int("queue_size", len(visible)))
	return visible, nil
}

// Advance applies a pharmacy-driven status transition
func (s *Service) Advance(ctx context.Context, id string, a actor.Actor, to Status) (*Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "prescription_advance",
		trace.WithAttributes(
			attribute.String("prescription_id", id),
			attribute.String("to", string(to)),
		))
	defer span.End()

	if err := actor.Require(a, actor.PharmacyStaff...); err != nil {
		return nil, err
	}
	switch to {
	case StatusPacked, StatusDispensed, StatusOutOfStock:
	default:
		return nil, apperror.Invalid("status", fmt.Sprintf("pharmacy cannot set status %q", to))
	}

	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, to) {
		return nil, fmt.Errorf("prescription %s is %s, cannot move to %s: %w", id, p.Status, to, apperror.ErrConflict)
	}

	now := s.now()
	event, err := NewEvent(p.ID, EventPrescriptionStatusChanged, &StatusChangedData{
		PrescriptionID: p.ID,
		From:           p.Status,
		To:             to,
		ChangedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	event.WithActor(a.ID, string(a.Role), p.SurgeryID)

	if err := s.repo.UpdateStatus(ctx, p.ID, p.Status, to, now, event); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("prescription status changed",
		zap.String("prescription_id", p.ID),
		zap.String("from", string(p.Status)),
		zap.String("to", string(to)),
		zap.String("actor_id", a.ID))

	p.Status = to
	p.UpdatedAt = now
	return p, nil
}
