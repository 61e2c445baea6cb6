package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/api/middleware"
	"github.com/drfirst/go-periop/internal/domain/actor"
	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/domain/prescription"
	"github.com/drfirst/go-periop/internal/domain/review"
)

// ReviewService runs the review workflow
type ReviewService interface {
	Submit(ctx context.Context, a actor.Actor, req review.SubmitRequest) (*review.Review, error)
	Get(ctx context.Context, id string) (*review.View, error)
	Decision(ctx context.Context, reviewID string) (*review.Decision, error)
	Approve(ctx context.Context, reviewID string, a actor.Actor, notes string) (*review.Review, error)
	Reject(ctx context.Context, reviewID string, a actor.Actor, reason string, corrected prescription.Draft) (*review.Review, *prescription.Prescription, error)
}

// ReviewHandler handles pre-anesthetic review endpoints
type ReviewHandler struct {
	svc     ReviewService
	metrics Recorder
	logger  *zap.Logger
}

// NewReviewHandler creates a new handler
func NewReviewHandler(svc ReviewService, metrics Recorder, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, metrics: recorderOrNoop(metrics), logger: loggerOrNop(logger)}
}

// Routes returns the handler routes
func (h *ReviewHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Submit)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/decision", h.Decision)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	return r
}

// SubmitRequest is the body of POST /reviews
type SubmitRequest struct {
	SurgeryID    string              `json:"surgeryId"`
	PatientID    string              `json:"patientId"`
	Assessment   review.Assessment   `json:"assessment"`
	Prescription *prescription.Draft `json:"prescription,omitempty"`
}

// SubmitResponse acknowledges a stored review
type SubmitResponse struct {
	ID             string        `json:"id"`
	Status         review.Status `json:"status"`
	PrescriptionID string        `json:"prescriptionId,omitempty"`
}

// Submit handles POST /reviews
func (h *ReviewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decode(w, r, &req) {
		return
	}
	rv, err := h.svc.Submit(r.Context(), middleware.GetActor(r.Context()), review.SubmitRequest{
		SurgeryID:    req.SurgeryID,
		PatientID:    req.PatientID,
		Assessment:   req.Assessment,
		Prescription: req.Prescription,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{ID: rv.ID, Status: rv.Status, PrescriptionID: rv.PrescriptionID})
}

// Get handles GET /reviews/{id}
func (h *ReviewHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Decision handles GET /reviews/{id}/decision
func (h *ReviewHandler) Decision(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Decision(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ApproveRequest is the body of POST /reviews/{id}/approve
type ApproveRequest struct {
	Notes string `json:"notes"`
}

// DecisionResponse reports the review's new status
type DecisionResponse struct {
	ID                string        `json:"id"`
	Status            review.Status `json:"status"`
	PrescriptionID    string        `json:"prescriptionId,omitempty"`
	NewPrescriptionID string        `json:"newPrescriptionId,omitempty"`
}

// Approve handles POST /reviews/{id}/approve. The body is optional.
func (h *ReviewHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "malformed_body"})
		return
	}
	rv, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"), middleware.GetActor(r.Context()), req.Notes)
	if err != nil {
		h.decisionFailed(err)
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.ReviewDecided("approved")
	writeJSON(w, http.StatusOK, DecisionResponse{ID: rv.ID, Status: rv.Status, PrescriptionID: rv.PrescriptionID})
}

// RejectRequest is the body of POST /reviews/{id}/reject
type RejectRequest struct {
	Reason                string             `json:"reason"`
	CorrectedPrescription prescription.Draft `json:"correctedPrescription"`
}

// Reject handles POST /reviews/{id}/reject
func (h *ReviewHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}
	rv, rx, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"), middleware.GetActor(r.Context()), req.Reason, req.CorrectedPrescription)
	if err != nil {
		h.decisionFailed(err)
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.ReviewDecided("rejected")
	writeJSON(w, http.StatusOK, DecisionResponse{ID: rv.ID, Status: rv.Status, NewPrescriptionID: rx.ID})
}

func (h *ReviewHandler) decisionFailed(err error) {
	if errors.Is(err, apperror.ErrConflict) {
		h.metrics.ReviewDecided("conflict")
	}
}
