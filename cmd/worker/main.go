package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/app"
	"github.com/noah-isme/backend-pricing/internal/batch"
	"github.com/noah-isme/backend-pricing/internal/config"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, _ := app.InitObservability(ctx, cfg, "pricing-worker", logger)
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	deps, err := app.Open(initCtx, cfg, logger, "worker")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	connOpt, err := app.RedisConnOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}

	handlerLogger := logger.With().Str("task", batch.TaskRecalculate).Logger()
	mux := asynq.NewServeMux()
	mux.Handle(batch.TaskRecalculate, batch.TaskHandler{
		Aggregates: deps.Aggregates,
		Runner:     deps.Runner(),
		Logger:     &handlerLogger,
	})

	srv := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.QueueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return resilience.Backoff(10*time.Second, n+1, 0.2, 10*time.Minute)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			evt := logger.Error().Err(err).Str("task_type", task.Type())
			if id, ok := asynq.GetTaskID(ctx); ok {
				evt = evt.Str("task_id", id)
			}
			if retried, ok := asynq.GetRetryCount(ctx); ok {
				evt = evt.Int("retried", retried)
			}
			evt.Msg("task failed")
		}),
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	metricsSrv := startMetricsServer(cfg, logger)

	logger.Info().Str("queue", cfg.QueueName).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	<-ctx.Done()

	logger.Info().Msg("worker shutting down")
	srv.Shutdown()
	if metricsSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown metrics server")
		}
	}
	logger.Info().Msg("worker shutdown complete")
}

func startMetricsServer(cfg *config.Config, logger zerolog.Logger) *http.Server {
	if !cfg.MetricsEnabled {
		return nil
	}
	port := strings.TrimPrefix(strings.TrimSpace(cfg.WorkerMetricsPort), ":")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}
