package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/resilience"
	"github.com/noah-isme/backend-pricing/internal/store"
)

// TaskRecalculate is the asynq task type for batch recalculation.
const TaskRecalculate = "pricing:recalculate"

// RecalculatePayload selects the aggregates a recalculation task prices.
type RecalculatePayload struct {
	CustomerCode string `json:"customer_code,omitempty"`
	ProductCode  string `json:"product_code,omitempty"`
	// AsOf is a YYYY-MM-DD date; empty means the day the task runs.
	AsOf  string `json:"as_of,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// AsOfDate parses AsOf. An empty value returns the zero time.
func (p RecalculatePayload) AsOfDate() (time.Time, error) {
	if strings.TrimSpace(p.AsOf) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, strings.TrimSpace(p.AsOf))
}

// Validate checks the payload before it is enqueued or run.
func (p RecalculatePayload) Validate() error {
	if p.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	if _, err := p.AsOfDate(); err != nil {
		return fmt.Errorf("as_of: %w", err)
	}
	return nil
}

// NewRecalculateTask encodes payload as an asynq task.
func NewRecalculateTask(payload RecalculatePayload, opts ...asynq.Option) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecalculate, raw, opts...), nil
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer submits recalculation tasks to a queue.
type Enqueuer struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
	// Breaker, when set, fails fast while the queue backend keeps erroring.
	Breaker *resilience.Breaker
}

// Enqueue submits payload and returns the queued task id.
func (e Enqueuer) Enqueue(ctx context.Context, payload RecalculatePayload) (string, error) {
	if e.Client == nil {
		return "", errors.New("batch: task client not configured")
	}
	opts := []asynq.Option{}
	if q := strings.TrimSpace(e.Queue); q != "" {
		opts = append(opts, asynq.Queue(q))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Timeout > 0 {
		opts = append(opts, asynq.Timeout(e.Timeout))
	}
	task, err := NewRecalculateTask(payload, opts...)
	if err != nil {
		return "", err
	}
	var info *asynq.TaskInfo
	send := func(ctx context.Context) error {
		var err error
		info, err = e.Client.EnqueueContext(ctx, task)
		return err
	}
	if e.Breaker != nil {
		err = e.Breaker.Do(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TaskRecalculate, err)
	}
	return info.ID, nil
}

// AggregateSource lists the aggregates a task should price.
type AggregateSource interface {
	List(ctx context.Context, filter store.AggregateFilter) ([]pricing.SalesAggregate, error)
}

// TaskHandler runs recalculation tasks on an asynq server.
type TaskHandler struct {
	Aggregates AggregateSource
	Runner     *Runner
	Logger     *zerolog.Logger
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h.Aggregates == nil || h.Runner == nil {
		return errors.New("batch: task handler not configured")
	}
	var payload RecalculatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskRecalculate, err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", TaskRecalculate, err, asynq.SkipRetry)
	}
	asOf, _ := payload.AsOfDate()

	aggs, err := h.Aggregates.List(ctx, store.AggregateFilter{
		CustomerCode: payload.CustomerCode,
		ProductCode:  payload.ProductCode,
		Limit:        payload.Limit,
	})
	if err != nil {
		return fmt.Errorf("load aggregates: %w", err)
	}
	sum, err := h.Runner.Run(ctx, aggs, asOf)
	logger := h.logger()
	if taskID, ok := asynq.GetTaskID(ctx); ok {
		l := logger.With().Str("task_id", taskID).Logger()
		logger = &l
	}
	if rw := t.ResultWriter(); rw != nil {
		if raw, merr := json.Marshal(newSummaryResult(sum)); merr == nil {
			if _, werr := rw.Write(raw); werr != nil {
				logger.Warn().Err(werr).Msg("write task result")
			}
		}
	}
	logger.Info().
		Str("run_id", sum.RunID.String()).
		Int("total", sum.Total).
		Int("failed", sum.Failed).
		Msg("recalculation task finished")
	// Partial failures are recorded, not retried: a retry would reprice the whole batch.
	if err != nil && (ctx.Err() != nil || sum.Failed == sum.Total) {
		return err
	}
	if err != nil {
		logger.Warn().Err(err).Msg("recalculation task finished with failures")
	}
	return nil
}

func (h TaskHandler) logger() *zerolog.Logger {
	if h.Logger == nil {
		return &runnerNopLogger
	}
	return h.Logger
}
