// Package handlers provides HTTP handlers for the perioperative API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/api/middleware"
	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(code string) int {
	switch code {
	case apperror.CodeValidation:
		return http.StatusUnprocessableEntity
	case apperror.CodeConflict:
		return http.StatusConflict
	case apperror.CodeForbidden:
		return http.StatusForbidden
	case apperror.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status and reason code. Internal errors are
// logged and their text withheld from the caller.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := apperror.Code(err)
	status := statusFor(code)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var ve *apperror.ValidationError
	if errors.As(err, &ve) {
		resp.Error = ve.Message
		resp.Field = ve.Field
	}

	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("code", code),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err),
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", fields...)
		resp.Error = "internal server error"
	} else {
		logger.Info("request rejected", fields...)
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body; malformed input is a 400 with code malformed_body
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "malformed_body"})
		return false
	}
	return true
}

// Recorder receives domain counters from the handlers
type Recorder interface {
	RiskAssessed(complete bool)
	ReviewDecided(outcome string)
	PrescriptionAdvanced(status string)
	AlertsRaised(entityType string, n int)
}

type noopRecorder struct{}

func (noopRecorder) RiskAssessed(bool)           {}
func (noopRecorder) ReviewDecided(string)        {}
func (noopRecorder) PrescriptionAdvanced(string) {}
func (noopRecorder) AlertsRaised(string, int)    {}

func recorderOrNoop(rec Recorder) Recorder {
	if rec == nil {
		return noopRecorder{}
	}
	return rec
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
