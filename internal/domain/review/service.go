package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/actor"
	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/domain/prescription"
)

// Submission is a new review and its optional proposed prescription
type Submission struct {
	Review             *Review
	Prescription       *prescription.Prescription
	Events             []*Event
	PrescriptionEvents []*prescription.Event
}

// Store persists reviews. ApplyTransition must compare-and-set the review from
// SUBMITTED and return apperror.ErrConflict when another decision won.
// When ReleasePrescriptionID is set the store also enqueues the release event.
type Store interface {
	Create(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id string) (*Review, error)
	Decision(ctx context.Context, reviewID string) (*Decision, error)
	ApplyTransition(ctx context.Context, t *Transition) error
}

// SubmitRequest is the input for Submit
type SubmitRequest struct {
	SurgeryID    string
	PatientID    string
	Assessment   Assessment
	Prescription *prescription.Draft
}

// View is a review with its decision, if any
type View struct {
	Review   *Review   `json:"review"`
	Decision *Decision `json:"decision,omitempty"`
}

// Service runs the review state machine
type Service struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a review service
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("review-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores a review in SUBMITTED, with the proposed prescription pending approval
func (s *Service) Submit(ctx context.Context, a actor.Actor, req SubmitRequest) (*Review, error) {
	ctx, span := s.tracer.Start(ctx, "review_submit",
		trace.WithAttributes(attribute.String("surgery_id", req.SurgeryID)))
	defer span.End()

	if err := actor.Require(a, actor.ReviewSubmitters...); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SurgeryID) == "" {
		return nil, apperror.Invalid("surgeryId", "is required")
	}
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, apperror.Invalid("patientId", "is required")
	}
	if req.Assessment.ASAClass < 0 || req.Assessment.ASAClass > 6 {
		return nil, apperror.Invalid("assessment.asaClass", "must be between 1 and 6")
	}
	if id := req.Assessment.RiskProfileID; id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return nil, apperror.Invalid("assessment.riskProfileId", "must be a UUID")
		}
	}
	if req.Prescription != nil {
		if err := req.Prescription.Validate("prescription"); err != nil {
			return nil, err
		}
	}

	now := s.now()
	r := &Review{
		ID:            uuid.New().String(),
		SurgeryID:     req.SurgeryID,
		PatientID:     req.PatientID,
		SubmittedBy:   a.ID,
		SubmittedRole: a.Role,
		Assessment:    req.Assessment,
		Status:        StatusSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sub := &Submission{Review: r}

	if req.Prescription != nil {
		rx := prescription.FromDraft(uuid.New().String(), *req.Prescription, prescription.StatusPendingApproval, a.ID, now)
		rx.ReviewID = r.ID
		rx.SurgeryID = r.SurgeryID
		rx.PatientID = r.PatientID
		r.PrescriptionID = rx.ID
		sub.Prescription = rx

		ev, err := prescription.NewEvent(rx.ID, prescription.EventPrescriptionProposed, &prescription.ProposedData{
			PrescriptionID: rx.ID,
			ReviewID:       r.ID,
			Urgency:        rx.Urgency,
			Medications:    len(rx.Medications),
		})
		if err != nil {
			return nil, err
		}
		sub.PrescriptionEvents = append(sub.PrescriptionEvents, ev.WithActor(a.ID, string(a.Role), r.SurgeryID))
	}

	ev, err := NewEvent(r, EventReviewSubmitted, a.ID, string(a.Role), &SubmittedData{
		ReviewID:       r.ID,
		PatientID:      r.PatientID,
		PrescriptionID: r.PrescriptionID,
		ASAClass:       r.Assessment.ASAClass,
	})
	if err != nil {
		return nil, err
	}
	sub.Events = append(sub.Events, ev)

	if err := s.store.Create(ctx, sub); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store review: %w", err)
	}

	s.logger.Info("review submitted",
		zap.String("review_id", r.ID),
		zap.String("surgery_id", r.SurgeryID),
		zap.String("prescription_id", r.PrescriptionID),
		zap.String("actor_id", a.ID))
	return r, nil
}

// Get returns the review and its decision
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &View{Review: r}
	if r.Status.Terminal() {
		d, err := s.store.Decision(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load decision: %w", err)
		}
		v.Decision = d
	}
	return v, nil
}

// Decision returns who decided a review; ErrNotFound while it is still SUBMITTED
func (s *Service) Decision(ctx context.Context, reviewID string) (*Decision, error) {
	return s.store.Decision(ctx, reviewID)
}

// Approve moves a SUBMITTED review to APPROVED and releases its prescription
func (s *Service) Approve(ctx context.Context, reviewID string, a actor.Actor, notes string) (*Review, error) {
	ctx, span := s.tracer.Start(ctx, "review_approve",
		trace.WithAttributes(attribute.String("review_id", reviewID)))
	defer span.End()

	if err := actor.Require(a, actor.ReviewDeciders...); err != nil {
		return nil, err
	}

	r, err := s.submitted(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	d := &Decision{
		ID:        uuid.New().String(),
		ReviewID:  r.ID,
		Outcome:   StatusApproved,
		ActorID:   a.ID,
		ActorRole: a.Role,
		Notes:     notes,
		DecidedAt: now,
	}
	ev, err := NewEvent(r, EventReviewApproved, a.ID, string(a.Role), &DecidedData{
		ReviewID:       r.ID,
		DecisionID:     d.ID,
		Outcome:        StatusApproved,
		Notes:          notes,
		PrescriptionID: r.PrescriptionID,
		DecidedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	t := &Transition{
		ReviewID:              r.ID,
		To:                    StatusApproved,
		Decision:              d,
		At:                    now,
		ReleasePrescriptionID: r.PrescriptionID,
		Events:                []*Event{ev},
	}
	if err := s.store.ApplyTransition(ctx, t); err != nil {
		span.RecordError(err)
		return nil, s.transitionFailed(r.ID, a, err)
	}

	s.logger.Info("review approved",
		zap.String("review_id", r.ID),
		zap.String("prescription_id", r.PrescriptionID),
		zap.String("actor_id", a.ID),
		zap.String("actor_role", string(a.Role)))

	s.decided(r, StatusApproved, a, now)
	return r, nil
}

// Reject moves a SUBMITTED review to REJECTED_WITH_CORRECTION. The corrected
// prescription is stored as a new record, already released to pharmacy, and the
// original is kept but superseded.
func (s *Service) Reject(ctx context.Context, reviewID string, a actor.Actor, reason string, corrected prescription.Draft) (*Review, *prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "review_reject",
		trace.WithAttributes(attribute.String("review_id", reviewID)))
	defer span.End()

	if err := actor.Require(a, actor.ReviewDeciders...); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, nil, apperror.Invalid("reason", "is required")
	}
	if err := corrected.Validate("correctedPrescription"); err != nil {
		return nil, nil, err
	}

	r, err := s.submitted(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	replacement := prescription.FromDraft(uuid.New().String(), corrected, prescription.StatusApprovedForPacking, a.ID, now)
	replacement.ReviewID = r.ID
	replacement.SurgeryID = r.SurgeryID
	replacement.PatientID = r.PatientID
	replacement.Supersedes = r.PrescriptionID

	d := &Decision{
		ID:                        uuid.New().String(),
		ReviewID:                  r.ID,
		Outcome:                   StatusRejectedWithCorrection,
		ActorID:                   a.ID,
		ActorRole:                 a.Role,
		Reason:                    reason,
		ReplacementPrescriptionID: replacement.ID,
		DecidedAt:                 now,
	}

	ev, err := NewEvent(r, EventReviewRejected, a.ID, string(a.Role), &DecidedData{
		ReviewID:                  r.ID,
		DecisionID:                d.ID,
		Outcome:                   StatusRejectedWithCorrection,
		Reason:                    reason,
		PrescriptionID:            r.PrescriptionID,
		ReplacementPrescriptionID: replacement.ID,
		DecidedAt:                 now,
	})
	if err != nil {
		return nil, nil, err
	}

	released, err := prescription.Released(replacement)
	if err != nil {
		return nil, nil, err
	}
	rxEvents := []*prescription.Event{released.WithActor(a.ID, string(a.Role), r.SurgeryID)}

	if r.PrescriptionID != "" {
		superseded, err := prescription.NewEvent(r.PrescriptionID, prescription.EventPrescriptionSuperseded, &prescription.SupersededData{
			PrescriptionID: r.PrescriptionID,
			SupersededBy:   replacement.ID,
			SupersededAt:   now,
		})
		if err != nil {
			return nil, nil, err
		}
		rxEvents = append(rxEvents, superseded.WithActor(a.ID, string(a.Role), r.SurgeryID))
	}

	t := &Transition{
		ReviewID:                r.ID,
		To:                      StatusRejectedWithCorrection,
		Decision:                d,
		At:                      now,
		Replacement:             replacement,
		SupersedePrescriptionID: r.PrescriptionID,
		Events:                  []*Event{ev},
		PrescriptionEvents:      rxEvents,
	}
	if err := s.store.ApplyTransition(ctx, t); err != nil {
		span.RecordError(err)
		return nil, nil, s.transitionFailed(r.ID, a, err)
	}

	s.logger.Info("review rejected with correction",
		zap.String("review_id", r.ID),
		zap.String("original_prescription_id", r.PrescriptionID),
		zap.String("new_prescription_id", replacement.ID),
		zap.String("actor_id", a.ID),
		zap.String("actor_role", string(a.Role)))

	s.decided(r, StatusRejectedWithCorrection, a, now)
	return r, replacement, nil
}

// submitted loads a review and fails fast when it is already decided.
// The store's compare-and-set remains the authoritative guard.
func (s *Service) submitted(ctx context.Context, id string) (*Review, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusSubmitted {
		return nil, fmt.Errorf("review %s is %s: %w", id, r.Status, apperror.ErrConflict)
	}
	return r, nil
}

func (s *Service) transitionFailed(reviewID string, a actor.Actor, err error) error {
	if apperror.Code(err) == apperror.CodeConflict {
		s.logger.Warn("review decision lost race",
			zap.String("review_id", reviewID),
			zap.String("actor_id", a.ID))
		return err
	}
	return fmt.Errorf("apply review transition: %w", err)
}

func (s *Service) decided(r *Review, to Status, a actor.Actor, at time.Time) {
	r.Status = to
	r.DecidedBy = a.ID
	r.DecidedAt = &at
	r.UpdatedAt = at
}
