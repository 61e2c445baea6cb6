// Package main provides the perioperative API entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/api/handlers"
	"github.com/drfirst/go-periop/internal/config"
	"github.com/drfirst/go-periop/internal/domain/escalation"
	"github.com/drfirst/go-periop/internal/domain/prescription"
	"github.com/drfirst/go-periop/internal/domain/review"
	"github.com/drfirst/go-periop/internal/domain/risk"
	"github.com/drfirst/go-periop/internal/infrastructure/postgres"
	"github.com/drfirst/go-periop/internal/observability/logging"
	"github.com/drfirst/go-periop/internal/observability/metrics"
	"github.com/drfirst/go-periop/internal/observability/tracing"
)

const (
	serviceName = "periop-api"
	version     = "1.0.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Perioperative risk and readiness API",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
				DatabaseURL: cfg.DatabaseURL,
				MaxConns:    cfg.DBMaxConns,
				MinConns:    cfg.DBMinConns,
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := postgres.NewMigrator(pool, logger).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", n)
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
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
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

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

	apiKeys, err := cfg.ClientKeys()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	router := handlers.NewRouter(handlers.RouterConfig{
		ServiceName:   serviceName,
		Version:       version,
		APIKeys:       apiKeys,
		Risk:          risk.NewService(risk.NewPGRepository(pool), logger),
		Reviews:       review.NewService(review.NewPGStore(pool, logger), logger),
		Prescriptions: prescription.NewService(prescription.NewPGRepository(pool, logger), logger),
		Escalations:   escalation.NewEngine(escalation.NewPGStore(pool), logger),
		Recorder:      m,
		HTTPObserver:  m,
		Metrics:       metrics.Handler(reg),
		Ready:         pool,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting perioperative API", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
