// Package main provides the escalation notifier entry point.
// It consumes escalation alerts and fans them out to each recipient.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/config"
	"github.com/drfirst/go-periop/internal/infrastructure/postgres"
	"github.com/drfirst/go-periop/internal/infrastructure/redpanda"
	"github.com/drfirst/go-periop/internal/notifier"
	"github.com/drfirst/go-periop/internal/observability/logging"
	"github.com/drfirst/go-periop/internal/observability/metrics"
	"github.com/drfirst/go-periop/internal/observability/tracing"
	"github.com/drfirst/go-periop/pkg/circuitbreaker"
	"github.com/drfirst/go-periop/pkg/idempotency"
)

const serviceName = "escalation-notifier"

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("escalation-notifier: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRate:   cfg.OTelSampleRate,
	})
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Brokers()
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	inboxStore := idempotency.NewPGStore(pool)
	inbox := idempotency.NewInbox(inboxStore, idempotency.DefaultConfig(), logger.Named("inbox"))
	go inbox.RunCleanup(ctx)

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), m.BreakerStateHook(), logger)

	dispatchCfg := notifier.DefaultConfig()
	dispatchCfg.Pool.Workers = cfg.NotifierWorkers
	dispatcher, err := notifier.NewDispatcher(inbox, producer, breakers, dispatchCfg, m, logger)
	if err != nil {
		return err
	}
	dispatcher.Start()
	defer dispatcher.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Brokers()
	consumerCfg.GroupID = cfg.NotifierGroupID
	consumer, err := redpanda.NewConsumer(consumerCfg, dispatcher.Handle, logger)
	if err != nil {
		return err
	}

	admin, err := redpanda.NewAdmin(cfg.Brokers(), logger)
	if err != nil {
		return err
	}
	defer admin.Close()

	ops := &opsHandler{
		reg:      reg,
		pool:     pool,
		admin:    admin,
		groupID:  cfg.NotifierGroupID,
		breakers: breakers,
		inbox:    inboxStore,
		logger:   logger,
	}
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           ops.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	logger.Info("escalation notifier started",
		zap.String("group", consumerCfg.GroupID),
		zap.Int("workers", dispatchCfg.Pool.Workers))
	runErr := consumer.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

type opsHandler struct {
	reg      *prometheus.Registry
	pool     interface{ Ping(context.Context) error }
	admin    *redpanda.Admin
	groupID  string
	breakers *circuitbreaker.Manager
	inbox    *idempotency.PGStore
	logger   *zap.Logger
}

func (h *opsHandler) routes() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(h.reg))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ready", h.ready)
	return r
}

type readiness struct {
	Status   string                        `json:"status"`
	Lag      int64                         `json:"consumerLag"`
	Breakers []circuitbreaker.HealthStatus `json:"breakers"`
	Inbox    *idempotency.Stats            `json:"inbox,omitempty"`
}

// ready reports consumer lag, breaker state and inbox counts; a database
// outage or an open breaker marks the notifier unavailable
func (h *opsHandler) ready(w http.ResponseWriter, r *http.Request) {
	resp := readiness{Status: "ready", Breakers: h.breakers.Health()}
	status := http.StatusOK

	if err := h.pool.Ping(r.Context()); err != nil {
		resp.Status = "database unavailable"
		status = http.StatusServiceUnavailable
	}
	if lag, err := h.admin.GroupLag(r.Context(), h.groupID); err != nil {
		h.logger.Warn("group lag unavailable", zap.Error(err))
	} else {
		resp.Lag = lag
	}
	if stats, err := h.inbox.Stats(r.Context()); err == nil {
		resp.Inbox = stats
	}
	for _, b := range resp.Breakers {
		if b.State == circuitbreaker.StateOpen && status == http.StatusOK {
			resp.Status = "breaker open: " + b.Name
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
