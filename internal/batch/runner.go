package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/store"
)

var runnerNopLogger = zerolog.Nop()

// Calculator prices a single aggregate.
type Calculator interface {
	Calculate(ctx context.Context, agg pricing.SalesAggregate, asOf time.Time, customer *pricing.Customer) (pricing.Outcome, error)
}

// OutcomeSaver persists an outcome with its snapshots.
type OutcomeSaver interface {
	SaveOutcome(ctx context.Context, outcome pricing.Outcome) error
}

// CustomerLookup resolves a customer code. Unknown codes return an error wrapping store.ErrNotFound.
type CustomerLookup interface {
	CustomerByCode(ctx context.Context, code string) (pricing.Customer, error)
}

// Locker guards one aggregate at a time across workers.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// Runner recalculates many aggregates with bounded concurrency. Each aggregate is
// priced under its own lock and a failure never stops the rest of the batch.
type Runner struct {
	Calculator  Calculator
	Saver       OutcomeSaver
	Customers   CustomerLookup
	Locker      Locker
	LockTTL     time.Duration
	Concurrency int
	Logger      *zerolog.Logger
}

// Summary reports what a batch run did.
type Summary struct {
	RunID     uuid.UUID
	Total     int
	Priced    int
	Unmatched int
	NoData    int
	Failed    int
	Outcomes  []uuid.UUID
	Duration  time.Duration
}

// Run prices aggs as of asOf. The returned error joins every per-aggregate failure;
// the summary is complete either way.
func (r *Runner) Run(ctx context.Context, aggs []pricing.SalesAggregate, asOf time.Time) (Summary, error) {
	if r == nil || r.Calculator == nil {
		return Summary{}, errors.New("batch: calculator not configured")
	}
	ctx, span := otel.Tracer("batch.Runner").Start(ctx, "Runner.Run")
	defer span.End()

	start := time.Now()
	sum := Summary{RunID: uuid.New(), Total: len(aggs)}
	logger := r.logger().With().Str("run_id", sum.RunID.String()).Logger()

	limit := r.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []error
	)
	g.SetLimit(limit)
	customers := &customerCache{lookup: r.Customers, seen: map[string]*pricing.Customer{}}

	for _, agg := range aggs {
		if ctx.Err() != nil {
			break
		}
		agg := agg
		g.Go(func() error {
			outcome, err := r.priceOne(ctx, agg, asOf, customers)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				failures = append(failures, fmt.Errorf("%s: %w", agg.AggregateKey(), err))
				logger.Error().Err(err).Str("aggregate", agg.AggregateKey().String()).Msg("batch pricing failed")
				return nil
			}
			switch outcome.Result.Status() {
			case pricing.StatusPriced:
				sum.Priced++
			case pricing.StatusNoData:
				sum.NoData++
			default:
				sum.Unmatched++
			}
			sum.Outcomes = append(sum.Outcomes, outcome.ID)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		failures = append(failures, err)
	}
	sum.Duration = time.Since(start)
	result := "ok"
	if len(failures) > 0 {
		result = "partial"
	}
	if obs.PricingBatchDuration != nil {
		obs.PricingBatchDuration.WithLabelValues(result).Observe(obs.DurationMillis(sum.Duration))
	}
	span.SetAttributes(
		attribute.String("batch.run_id", sum.RunID.String()),
		attribute.Int("batch.total", sum.Total),
		attribute.Int("batch.priced", sum.Priced),
		attribute.Int("batch.failed", sum.Failed),
	)
	logger.Info().
		Int("total", sum.Total).
		Int("priced", sum.Priced).
		Int("unmatched", sum.Unmatched).
		Int("no_data", sum.NoData).
		Int("failed", sum.Failed).
		Int64("duration_ms", sum.Duration.Milliseconds()).
		Msg("batch pricing finished")
	return sum, errors.Join(failures...)
}

func (r *Runner) priceOne(ctx context.Context, agg pricing.SalesAggregate, asOf time.Time, customers *customerCache) (pricing.Outcome, error) {
	var outcome pricing.Outcome
	work := func(ctx context.Context) error {
		customer, err := customers.get(ctx, agg.CustomerCode)
		if err != nil {
			return err
		}
		outcome, err = r.Calculator.Calculate(ctx, agg, asOf, customer)
		if err != nil {
			return err
		}
		if r.Saver != nil {
			if err := r.Saver.SaveOutcome(ctx, outcome); err != nil {
				return err
			}
		}
		return nil
	}
	if r.Locker == nil {
		return outcome, work(ctx)
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	err := r.Locker.WithLock(ctx, agg.AggregateKey().String(), ttl, work)
	return outcome, err
}

func (r *Runner) logger() *zerolog.Logger {
	if r.Logger == nil {
		return &runnerNopLogger
	}
	return r.Logger
}

// customerCache resolves each customer code once per run.
type customerCache struct {
	lookup CustomerLookup
	mu     sync.Mutex
	seen   map[string]*pricing.Customer
}

func (c *customerCache) get(ctx context.Context, code string) (*pricing.Customer, error) {
	if c.lookup == nil || code == "" {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if customer, ok := c.seen[code]; ok {
		return customer, nil
	}
	found, err := c.lookup.CustomerByCode(ctx, code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.seen[code] = nil
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup customer %s: %w", code, err)
	}
	c.seen[code] = &found
	return &found, nil
}
