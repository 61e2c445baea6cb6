package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/api/middleware"
	"github.com/drfirst/go-periop/internal/domain/actor"
	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/domain/prescription"
)

// PrescriptionService reads and advances prescriptions
type PrescriptionService interface {
	Get(ctx context.Context, id string) (*prescription.Prescription, error)
	Queue(ctx context.Context, filter prescription.QueueFilter) ([]*prescription.Prescription, error)
	Advance(ctx context.Context, id string, a actor.Actor, to prescription.Status) (*prescription.Prescription, error)
}

// PrescriptionHandler handles prescription and pharmacy endpoints
type PrescriptionHandler struct {
	svc     PrescriptionService
	metrics Recorder
	logger  *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(svc PrescriptionService, metrics Recorder, logger *zap.Logger) *PrescriptionHandler {
	return &PrescriptionHandler{svc: svc, metrics: recorderOrNoop(metrics), logger: loggerOrNop(logger)}
}

// Routes returns the read-only prescription routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.Get)
	return r
}

// PharmacyRoutes returns the pharmacy queue routes, restricted to pharmacy staff
func (h *PrescriptionHandler) PharmacyRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireRole(actor.PharmacyStaff...))
	r.Get("/queue", h.Queue)
	r.Post("/prescriptions/{id}/status", h.Advance)
	return r
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// QueueResponse lists prescriptions awaiting pharmacy action
type QueueResponse struct {
	Items []*prescription.Prescription `json:"items"`
	Count int                          `json:"count"`
}

// Queue handles GET /pharmacy/queue?urgency=&surgeryId=&limit=
func (h *PrescriptionHandler) Queue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := prescription.QueueFilter{
		Urgency:   prescription.Urgency(strings.ToUpper(q.Get("urgency"))),
		SurgeryID: q.Get("surgeryId"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, h.logger, apperror.Invalid("limit", "must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	items, err := h.svc.Queue(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []*prescription.Prescription{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{Items: items, Count: len(items)})
}

// AdvanceRequest is the body of POST /pharmacy/prescriptions/{id}/status
type AdvanceRequest struct {
	Status prescription.Status `json:"status"`
}

// Advance handles POST /pharmacy/prescriptions/{id}/status
func (h *PrescriptionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.Advance(r.Context(), chi.URLParam(r, "id"), middleware.GetActor(r.Context()), req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.PrescriptionAdvanced(string(p.Status))
	writeJSON(w, http.StatusOK, p)
}
