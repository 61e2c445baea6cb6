package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/domain/escalation"
)

// EscalationService raises and tracks alerts
type EscalationService interface {
	EquipmentReturned(ctx context.Context, ret escalation.EquipmentReturn) ([]*escalation.Alert, error)
	RaiseManual(ctx context.Context, m escalation.ManualAlert) (*escalation.Alert, error)
	Resolve(ctx context.Context, entityType escalation.EntityType, entityID string) error
	History(ctx context.Context, entityType escalation.EntityType, entityID string) (*escalation.History, error)
}

// EscalationHandler handles escalation endpoints
type EscalationHandler struct {
	svc     EscalationService
	metrics Recorder
	logger  *zap.Logger
}

// NewEscalationHandler creates a new handler
func NewEscalationHandler(svc EscalationService, metrics Recorder, logger *zap.Logger) *EscalationHandler {
	return &EscalationHandler{svc: svc, metrics: recorderOrNoop(metrics), logger: loggerOrNop(logger)}
}

// Routes returns the handler routes
func (h *EscalationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Raise)
	r.Post("/equipment-returns", h.EquipmentReturned)
	r.Post("/{entityType}/{entityId}/resolve", h.Resolve)
	r.Get("/{entityType}/{entityId}", h.History)
	return r
}

// RaiseResponse identifies a recorded manual alert
type RaiseResponse struct {
	AlertID string `json:"alertId"`
}

// Raise handles POST /escalations
func (h *EscalationHandler) Raise(w http.ResponseWriter, r *http.Request) {
	var req escalation.ManualAlert
	if !decode(w, r, &req) {
		return
	}
	if req.EntityType != "" {
		et, err := parseEntityType(string(req.EntityType))
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		req.EntityType = et
	}

	a, err := h.svc.RaiseManual(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.AlertsRaised(string(a.EntityType), 1)
	writeJSON(w, http.StatusCreated, RaiseResponse{AlertID: a.ID})
}

// EquipmentReturnResponse lists the alerts raised by one return batch
type EquipmentReturnResponse struct {
	AlertIDs []string `json:"alertIds"`
}

// EquipmentReturned handles POST /escalations/equipment-returns
func (h *EscalationHandler) EquipmentReturned(w http.ResponseWriter, r *http.Request) {
	var req escalation.EquipmentReturn
	if !decode(w, r, &req) {
		return
	}

	alerts, err := h.svc.EquipmentReturned(r.Context(), req)

	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	if len(ids) > 0 {
		h.metrics.AlertsRaised(string(escalation.EntityEquipmentItem), len(ids))
	}
	if err != nil {
		if len(ids) > 0 {
			h.logger.Warn("equipment return partially escalated",
				zap.String("return_id", req.ReturnID),
				zap.Strings("alert_ids", ids))
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, EquipmentReturnResponse{AlertIDs: ids})
}

// Resolve handles POST /escalations/{entityType}/{entityId}/resolve
func (h *EscalationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	et, err := parseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Resolve(r.Context(), et, chi.URLParam(r, "entityId")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /escalations/{entityType}/{entityId}
func (h *EscalationHandler) History(w http.ResponseWriter, r *http.Request) {
	et, err := parseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	hist, err := h.svc.History(r.Context(), et, chi.URLParam(r, "entityId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func parseEntityType(s string) (escalation.EntityType, error) {
	et := escalation.EntityType(strings.ToUpper(strings.TrimSpace(s)))
	switch et {
	case escalation.EntityEquipmentItem, escalation.EntityPACURecord:
		return et, nil
	}
	return "", apperror.Invalid("entityType", fmt.Sprintf("unknown entity type %q", s))
}
