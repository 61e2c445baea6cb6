package risk

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

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// Profile is a persisted risk assessment attached to a scheduled surgery.
// Profiles are never updated; re-assessment writes a new one.
type Profile struct {
	ID         string      `json:"id"`
	SurgeryID  string      `json:"surgeryId"`
	PatientID  string      `json:"patientId"`
	AssessedBy string      `json:"assessedBy"`
	Input      FactorInput `json:"input"`
	Result     Assessment  `json:"result"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Repository persists risk profiles
type Repository interface {
	Create(ctx context.Context, p *Profile) error
	LatestForSurgery(ctx context.Context, surgeryID string) (*Profile, error)
}

// AssessRequest is the input for a new assessment
type AssessRequest struct {
	SurgeryID  string
	PatientID  string
	AssessedBy string
	Input      FactorInput
}

// Service scores and stores assessments
type Service struct {
	repo   Repository
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a risk service
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("risk-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Assess evaluates req.Input and persists the result as a new profile
func (s *Service) Assess(ctx context.Context, req AssessRequest) (*Profile, error) {
	ctx, span := s.tracer.Start(ctx, "risk_assess",
		trace.WithAttributes(attribute.String("surgery_id", req.SurgeryID)))
	defer span.End()

	if strings.TrimSpace(req.SurgeryID) == "" {
		return nil, apperror.Invalid("surgeryId", "is required")
	}
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, apperror.Invalid("patientId", "is required")
	}

	result, err := Evaluate(req.Input)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		ID:         uuid.New().String(),
		SurgeryID:  req.SurgeryID,
		PatientID:  req.PatientID,
		AssessedBy: req.AssessedBy,
		Input:      req.Input,
		Result:     result,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store risk profile: %w", err)
	}

	span.SetAttributes(attribute.Bool("incomplete", result.Composite.Incomplete))
	s.logger.Info("risk profile stored",
		zap.String("profile_id", p.ID),
		zap.String("surgery_id", p.SurgeryID),
		zap.Bool("incomplete", result.Composite.Incomplete),
		zap.String("fitness_category", string(result.Composite.FitnessCategory)),
	)
	return p, nil
}

// Latest returns the most recent profile for a surgery
func (s *Service) Latest(ctx context.Context, surgeryID string) (*Profile, error) {
	if strings.TrimSpace(surgeryID) == "" {
		return nil, apperror.Invalid("surgeryId", "is required")
	}
	return s.repo.LatestForSurgery(ctx, surgeryID)
}
