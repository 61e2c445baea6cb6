// Package main provides the outbox relay entry point.
// It drains committed outbox rows to Redpanda.
package main

import (
	"context"
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
	"github.com/drfirst/go-periop/internal/observability/logging"
	"github.com/drfirst/go-periop/internal/observability/metrics"
	"github.com/drfirst/go-periop/internal/observability/tracing"
)

const serviceName = "outbox-relay"

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("outbox-relay: " + err.Error() + "\n")
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
	logger.Info("connected to database")

	admin, err := redpanda.NewAdmin(cfg.Brokers(), logger)
	if err != nil {
		return err
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		admin.Close()
		return err
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Brokers()
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		return err
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Brokers()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.BatchSize = cfg.OutboxBatchSize
	outboxCfg.PollInterval = cfg.OutboxPollInterval
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, m, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           opsRouter(reg, pool, producer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	outbox.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(sctx)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// opsRouter serves metrics plus a readiness probe covering the database and broker
func opsRouter(reg *prometheus.Registry, deps ...pinger) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		for _, d := range deps {
			if err := d.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}
