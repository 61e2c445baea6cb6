package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/api/middleware"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig wires the services behind the HTTP API
type RouterConfig struct {
	ServiceName   string
	Version       string
	APIKeys       map[string]string
	Risk          RiskService
	Reviews       ReviewService
	Prescriptions PrescriptionService
	Escalations   EscalationService
	Recorder      Recorder
	HTTPObserver  middleware.HTTPObserver
	Metrics       http.Handler
	Ready         Pinger
	Logger        *zap.Logger
}

// NewRouter assembles middleware and mounts every handler under /api/v1
func NewRouter(cfg RouterConfig) http.Handler {
	logger := loggerOrNop(cfg.Logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	if cfg.HTTPObserver != nil {
		r.Use(middleware.Metrics(cfg.HTTPObserver))
	}

	r.Get("/health", healthHandler(cfg.ServiceName, cfg.Version))
	r.Get("/ready", readyHandler(cfg.Ready))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	rx := NewPrescriptionHandler(cfg.Prescriptions, cfg.Recorder, logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Use(middleware.Actor)
		r.Mount("/risk", NewRiskHandler(cfg.Risk, cfg.Recorder, logger).Routes())
		r.Mount("/reviews", NewReviewHandler(cfg.Reviews, cfg.Recorder, logger).Routes())
		r.Mount("/prescriptions", rx.Routes())
		r.Mount("/pharmacy", rx.PharmacyRoutes())
		r.Mount("/escalations", NewEscalationHandler(cfg.Escalations, cfg.Recorder, logger).Routes())
	})
	return r
}

// HealthResponse is the liveness body
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

func healthHandler(service, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Service: service, Version: version})
	}
}

func readyHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "not ready", Code: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
