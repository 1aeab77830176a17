package app

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/batch"
	"github.com/noah-isme/backend-pricing/internal/config"
	"github.com/noah-isme/backend-pricing/internal/lock"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/store"
)

// Dependencies holds the connections and repositories shared by the api and worker binaries.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Validator *validator.Validate

	Rules      store.RuleRepo
	Aggregates store.AggregateRepo
	Outcomes   store.OutcomeRepo
}

// OpenDatabase connects a traced pgx pool. component names the pool in pg_stat_activity.
func OpenDatabase(ctx context.Context, cfg *config.Config, component string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "pricing-" + component

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Open connects to Postgres and Redis.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, component string) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	pool, err := OpenDatabase(ctx, cfg, component)
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	d := &Dependencies{Config: cfg, Logger: logger, DB: pool, Redis: redisClient}
	d.wireRepos()
	return d, nil
}

func (d *Dependencies) wireRepos() {
	d.Validator = validator.New(validator.WithRequiredStructEnabled())
	if d.DB == nil {
		return
	}
	d.Rules = store.RuleRepo{DB: d.DB}
	d.Aggregates = store.AggregateRepo{DB: d.DB}
	d.Outcomes = store.OutcomeRepo{DB: d.DB}
}

// Close releases the connections opened by Open.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// Calculator builds the pricing calculator over the rule repository.
func (d *Dependencies) Calculator() *pricing.Calculator {
	logger := d.Logger.With().Str("component", "pricing").Logger()
	return &pricing.Calculator{
		Source: pricing.Source{Store: d.Rules},
		Engine: pricing.Engine{
			Options: pricing.Options{Thresholds: d.Config.Thresholds()},
		},
		Logger: &logger,
	}
}

// Locker returns the per-aggregate distributed lock.
func (d *Dependencies) Locker() lock.Locker {
	return lock.Locker{
		R:            d.Redis,
		RetryBackoff: d.Config.LockRetryBackoff,
		MaxWait:      d.Config.LockMaxWait,
	}
}

// Runner builds a batch runner that persists every outcome.
func (d *Dependencies) Runner() *batch.Runner {
	logger := d.Logger.With().Str("component", "batch").Logger()
	r := &batch.Runner{
		Calculator:  d.Calculator(),
		Saver:       d.Outcomes,
		Customers:   d.Rules,
		LockTTL:     d.Config.LockTTL,
		Concurrency: d.Config.BatchConcurrency,
		Logger:      &logger,
	}
	if d.Redis != nil {
		r.Locker = d.Locker()
	}
	return r
}

// RedisConnOpt returns the asynq connection for the configured Redis.
func RedisConnOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for task queue: %w", err)
	}
	return opt, nil
}

// InitObservability registers pricing metrics and, when enabled, the tracer provider.
// The returned function flushes the tracer and is always safe to call.
func InitObservability(ctx context.Context, cfg *config.Config, service string, logger zerolog.Logger) (shutdown func(), tracing bool) {
	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	}
	shutdown = func() {}
	if !cfg.TracingEnabled {
		return shutdown, false
	}
	stop, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   service,
		Endpoint:      cfg.OTLPEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return shutdown, false
	}
	return func() {
		if err := stop(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}, true
}
