package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/api/middleware"
	"github.com/drfirst/go-periop/internal/domain/risk"
)

// RiskService scores and stores assessments
type RiskService interface {
	Assess(ctx context.Context, req risk.AssessRequest) (*risk.Profile, error)
	Latest(ctx context.Context, surgeryID string) (*risk.Profile, error)
}

// RiskHandler handles risk assessment endpoints
type RiskHandler struct {
	svc     RiskService
	metrics Recorder
	logger  *zap.Logger
}

// NewRiskHandler creates a new handler
func NewRiskHandler(svc RiskService, metrics Recorder, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{svc: svc, metrics: recorderOrNoop(metrics), logger: loggerOrNop(logger)}
}

// Routes returns the handler routes
func (h *RiskHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/assessments", h.Assess)
	r.Get("/surgeries/{surgeryID}/latest", h.Latest)
	return r
}

// AssessRequest is the body of POST /risk/assessments
type AssessRequest struct {
	SurgeryID string `json:"surgeryId"`
	PatientID string `json:"patientId"`
	risk.FactorInput
}

// ProfileResponse is a stored risk profile
type ProfileResponse struct {
	ID          string                `json:"id"`
	SurgeryID   string                `json:"surgeryId"`
	PatientID   string                `json:"patientId"`
	AssessedBy  string                `json:"assessedBy,omitempty"`
	DVT         risk.Score            `json:"dvt"`
	Bleeding    risk.Score            `json:"bleeding"`
	Braden      risk.Score            `json:"braden"`
	Nutritional risk.NutritionalScore `json:"nutritional"`
	Composite   risk.Composite        `json:"composite"`
	CreatedAt   time.Time             `json:"createdAt"`
}

func profileResponse(p *risk.Profile) ProfileResponse {
	return ProfileResponse{
		ID:          p.ID,
		SurgeryID:   p.SurgeryID,
		PatientID:   p.PatientID,
		AssessedBy:  p.AssessedBy,
		DVT:         p.Result.DVT,
		Bleeding:    p.Result.Bleeding,
		Braden:      p.Result.Braden,
		Nutritional: p.Result.Nutritional,
		Composite:   p.Result.Composite,
		CreatedAt:   p.CreatedAt,
	}
}

// Assess handles POST /risk/assessments
func (h *RiskHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.svc.Assess(r.Context(), risk.AssessRequest{
		SurgeryID:  req.SurgeryID,
		PatientID:  req.PatientID,
		AssessedBy: middleware.GetActor(r.Context()).ID,
		Input:      req.FactorInput,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.RiskAssessed(!p.Result.Composite.Incomplete)
	writeJSON(w, http.StatusCreated, profileResponse(p))
}

// Latest handles GET /risk/surgeries/{surgeryID}/latest
func (h *RiskHandler) Latest(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Latest(r.Context(), chi.URLParam(r, "surgeryID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(p))
}
