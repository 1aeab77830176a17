package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/pricing"
)

// Config is shared by the api, worker and seeder binaries. Every field maps
// to one environment variable, named next to its default in Load.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsEnabled   bool
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64

	BatchConcurrency  int
	LockTTL           time.Duration
	LockRetryBackoff  time.Duration
	LockMaxWait       time.Duration
	QueueName         string
	WorkerConcurrency int
	WorkerMetricsPort string
	TaskMaxRetry      int
	TaskTimeout       time.Duration

	// WarnLowGP and WarnHighGP bound the gross profit band outside which a
	// calculated price is flagged for review.
	WarnLowGP  decimal.Decimal
	WarnHighGP decimal.Decimal

	RateLimitBatchMax int
	RateLimitWindow   time.Duration
	IdempotencyTTL    time.Duration
	BreakerOpenFor    time.Duration
	MaxBodyBytes      int64
	EnableHSTS        bool
	ShutdownTimeout   time.Duration

	PprofEnabled  bool
	PprofUser     string
	PprofPassword string

	RulePackPath string
}

// Load reads the process environment, after merging a .env file from the
// working directory when one exists. Malformed operational knobs fall back to
// their defaults; malformed GP thresholds and missing connection strings fail.
func Load() (*Config, error) {
	_ = godotenv.Load()

	e, err := newEnvReader()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             e.str("APP_ENV", "development"),
		Port:               e.str("PORT", "8080"),
		DatabaseURL:        e.str("DATABASE_URL", ""),
		RedisURL:           e.str("REDIS_URL", ""),
		CORSAllowedOrigins: e.list("CORS_ALLOWED_ORIGINS"),

		LogFormat:        e.str("OBS_LOG_FORMAT", "json"),
		LogLevel:         e.str("OBS_LOG_LEVEL", "info"),
		MetricsNamespace: e.str("OBS_METRICS_NAMESPACE", "pricing"),
		MetricsEnabled:   e.flag("OBS_ENABLE_PROMETHEUS", true),
		TracingEnabled:   e.flag("OBS_ENABLE_TRACING", false),
		TracingExporter:  e.str("OBS_TRACING_EXPORTER", "otlp"),
		OTLPEndpoint:     e.str("OBS_OTLP_ENDPOINT", ""),
		TracingSampling:  e.ratio("OBS_TRACING_SAMPLING_RATIO", 1),

		BatchConcurrency:  e.count("BATCH_CONCURRENCY", 4),
		LockTTL:           e.duration("LOCK_TTL", 30*time.Second),
		LockRetryBackoff:  e.duration("LOCK_RETRY_BACKOFF", 50*time.Millisecond),
		LockMaxWait:       e.duration("LOCK_MAX_WAIT", 0),
		QueueName:         e.str("QUEUE_NAME", "pricing"),
		WorkerConcurrency: e.count("WORKER_CONCURRENCY", 4),
		WorkerMetricsPort: e.str("WORKER_METRICS_PORT", "9091"),
		TaskMaxRetry:      e.count("TASK_MAX_RETRY", 3),
		TaskTimeout:       e.duration("TASK_TIMEOUT", 30*time.Minute),

		RateLimitBatchMax: e.count("RATE_LIMIT_BATCH_MAX", 10),
		RateLimitWindow:   e.duration("RATE_LIMIT_WINDOW", time.Minute),
		IdempotencyTTL:    e.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		BreakerOpenFor:    e.duration("QUEUE_BREAKER_OPEN_FOR", 30*time.Second),
		MaxBodyBytes:      int64(e.count("HTTP_MAX_BODY_BYTES", 4<<20)),
		EnableHSTS:        e.flag("HTTP_ENABLE_HSTS", false),
		ShutdownTimeout:   e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),

		PprofEnabled:  e.flag("OBS_ENABLE_PPROF", false),
		PprofUser:     e.str("PPROF_USER", ""),
		PprofPassword: e.secret("PPROF_PASSWORD"),

		RulePackPath: e.str("RULE_PACK_PATH", ""),
	}

	if cfg.WarnLowGP, err = e.fraction("PRICING_WARN_LOW_GP", "0.05"); err != nil {
		return nil, err
	}
	if cfg.WarnHighGP, err = e.fraction("PRICING_WARN_HIGH_GP", "0.70"); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.WarnLowGP.GreaterThan(c.WarnHighGP):
		return errors.New("PRICING_WARN_LOW_GP must not exceed PRICING_WARN_HIGH_GP")
	case c.PprofEnabled && (c.PprofUser == "" || c.PprofPassword == ""):
		return errors.New("PPROF_USER and PPROF_PASSWORD are required when OBS_ENABLE_PPROF is set")
	case c.DatabaseURL == "":
		return errors.New("DATABASE_URL is required")
	case c.RedisURL == "":
		return errors.New("REDIS_URL is required")
	}
	return nil
}

// Thresholds returns the GP warning band for the pricing engine.
func (c *Config) Thresholds() pricing.Thresholds {
	return pricing.Thresholds{LowGP: c.WarnLowGP, HighGP: c.WarnHighGP}
}

// HTTPAddr accepts PORT as either "8080" or ":8080".
func (c *Config) HTTPAddr() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

// parseGP reads a gross profit fraction in [0, 1).
func parseGP(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("%s must be in [0, 1)", key)
	}
	return d, nil
}
