package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-pricing/internal/api"
	"github.com/noah-isme/backend-pricing/internal/app"
	"github.com/noah-isme/backend-pricing/internal/batch"
	"github.com/noah-isme/backend-pricing/internal/common"
	"github.com/noah-isme/backend-pricing/internal/config"
	"github.com/noah-isme/backend-pricing/internal/health"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/ratelimit"
	"github.com/noah-isme/backend-pricing/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("service", "pricing-api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, tracingEnabled := app.InitObservability(ctx, cfg, "pricing-api", logger)
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	deps, err := app.Open(initCtx, cfg, logger, "api")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	connOpt, err := app.RedisConnOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}
	taskClient := asynq.NewClient(connOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()
	inspector := asynq.NewInspector(connOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Error().Err(err).Msg("close task inspector")
		}
	}()

	batchLimiter, err := ratelimit.NewRedis(deps.Redis, ratelimit.DefaultPrefix+":batches", int64(cfg.RateLimitBatchMax), cfg.RateLimitWindow)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure batch rate limit")
	}
	rateLimitLogger := logger.With().Str("component", "ratelimit").Logger()
	batchGuards := []func(http.Handler) http.Handler{
		ratelimit.Handler{
			Limiter: batchLimiter,
			Key:     ratelimit.ClientKey(obs.CustomerHeader),
			OnError: func(err error) {
				rateLimitLogger.Warn().Err(err).Msg("rate limiter unavailable")
			},
		}.Middleware,
		common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}.Middleware,
	}

	queueBreaker := resilience.NewBreaker(5, 0.5, cfg.BreakerOpenFor).
		WithTarget("task-queue").
		WithLogger(logger.With().Str("component", "breaker").Logger())

	handlerLogger := logger.With().Str("component", "api").Logger()
	pricingHandler := &api.Handler{
		Calculator: deps.Calculator(),
		Customers:  deps.Rules,
		Batches: batch.Enqueuer{
			Client:   taskClient,
			Queue:    cfg.QueueName,
			MaxRetry: cfg.TaskMaxRetry,
			Timeout:  cfg.TaskTimeout,
			Breaker:  queueBreaker,
		},
		BatchState: batch.StatusReader{Inspector: inspector, Queue: cfg.QueueName},
		Trails:     deps.Outcomes,
		Products:   deps.Aggregates,
		Rules:      deps.Rules,
		Validate:   deps.Validator,
		Logger:     &handlerLogger,
	}

	routerCfg := api.RouterConfig{
		Pricing: pricingHandler,
		Health: health.Handler{
			Checker: health.Probe{DB: deps.DB, Redis: deps.Redis},
		},
		Logger:         logger,
		Tracing:        tracingEnabled,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		HSTS:           cfg.EnableHSTS,
		BatchGuards:    batchGuards,
	}
	if cfg.MetricsEnabled {
		routerCfg.HTTPMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil)
		routerCfg.Metrics = promhttp.Handler()
	}
	if cfg.PprofEnabled {
		routerCfg.Debug = debugHandler(cfg.PprofUser, cfg.PprofPassword)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}
