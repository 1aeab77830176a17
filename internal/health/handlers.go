package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-pricing/internal/common"
)

var draining atomic.Bool

// SetReady flips the flag reported by Ready. The API clears it when shutdown
// begins so load balancers stop routing before the listener closes.
func SetReady(v bool) { draining.Store(!v) }

// Checker probes the stores the pricing service cannot work without.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Probe pings the Postgres pool holding rules and outcomes, and the Redis
// instance behind locks, rate limits and the task queue.
type Probe struct {
	DB    *pgxpool.Pool
	Redis redis.UniversalClient
}

var (
	errNoDB    = errors.New("db not configured")
	errNoRedis = errors.New("redis not configured")
)

func (p Probe) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.DB == nil {
		return errNoDB
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.DB.Ping(ctx)
}

func (p Probe) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errNoRedis
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Report is the readiness body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes both stores concurrently and answers 503 unless both respond.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "draining"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "unconfigured"})
		return
	}

	var dbErr, redisErr error
	var g errgroup.Group
	g.Go(func() error {
		dbErr = h.Checker.PingDB(r.Context(), orDefault(h.DBTimeout, 500*time.Millisecond))
		return nil
	})
	g.Go(func() error {
		redisErr = h.Checker.PingRedis(r.Context(), orDefault(h.RedisTimeout, 300*time.Millisecond))
		return nil
	})
	_ = g.Wait()

	rep := Report{Status: "ok", Checks: map[string]string{"db": outcome(dbErr), "redis": outcome(redisErr)}}
	status := http.StatusOK
	if dbErr != nil || redisErr != nil {
		rep.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, rep)
}

func outcome(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
