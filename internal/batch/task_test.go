package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/resilience"
	"github.com/noah-isme/backend-pricing/internal/store"
)

type stubAggregates struct {
	filter store.AggregateFilter
	aggs   []pricing.SalesAggregate
	err    error
}

func (s *stubAggregates) List(_ context.Context, filter store.AggregateFilter) ([]pricing.SalesAggregate, error) {
	s.filter = filter
	return s.aggs, s.err
}

type stubEnqueuer struct {
	task *asynq.Task
	err  error
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.task = task
	return &asynq.TaskInfo{ID: "task-1", Queue: "pricing"}, nil
}

func TestNewRecalculateTask(t *testing.T) {
	task, err := NewRecalculateTask(RecalculatePayload{CustomerCode: "C001", AsOf: "2025-03-01", Limit: 50})
	require.NoError(t, err)
	require.Equal(t, TaskRecalculate, task.Type())

	var decoded RecalculatePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, "C001", decoded.CustomerCode)
	require.Equal(t, 50, decoded.Limit)

	_, err = NewRecalculateTask(RecalculatePayload{AsOf: "01/03/2025"})
	require.Error(t, err)
	_, err = NewRecalculateTask(RecalculatePayload{Limit: -1})
	require.Error(t, err)
}

func TestEnqueuerSubmitsTask(t *testing.T) {
	client := &stubEnqueuer{}
	id, err := Enqueuer{Client: client, Queue: "pricing", MaxRetry: 3}.Enqueue(context.Background(), RecalculatePayload{ProductCode: "BEEF-RIB"})
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
	require.Equal(t, TaskRecalculate, client.task.Type())

	_, err = Enqueuer{Client: &stubEnqueuer{err: errors.New("redis down")}}.Enqueue(context.Background(), RecalculatePayload{})
	require.ErrorContains(t, err, "redis down")

	_, err = Enqueuer{}.Enqueue(context.Background(), RecalculatePayload{})
	require.Error(t, err)
}

func TestEnqueuerFailsFastWhenBreakerOpen(t *testing.T) {
	failing := &stubEnqueuer{err: errors.New("redis down")}
	enq := Enqueuer{Client: failing, Breaker: resilience.NewBreaker(1, 0.5, time.Minute)}

	_, err := enq.Enqueue(context.Background(), RecalculatePayload{})
	require.ErrorContains(t, err, "redis down")

	failing.err = nil
	_, err = enq.Enqueue(context.Background(), RecalculatePayload{})
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Nil(t, failing.task)
}

func TestProcessTaskRunsBatch(t *testing.T) {
	aggs := &stubAggregates{aggs: testAggregates()}
	saver := &recordingSaver{}
	handler := TaskHandler{
		Aggregates: aggs,
		Runner: &Runner{
			Calculator: &pricing.Calculator{Source: pricing.Source{Store: testRules()}},
			Saver:      saver,
		},
	}
	task, err := NewRecalculateTask(RecalculatePayload{CustomerCode: "C001", AsOf: "2025-03-01", Limit: 10})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(context.Background(), task))
	require.Equal(t, store.AggregateFilter{CustomerCode: "C001", Limit: 10}, aggs.filter)
	require.Len(t, saver.outcomes, 4)
	for _, o := range saver.outcomes {
		require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), o.AsOf)
	}
}

func TestProcessTaskSkipsRetryOnBadPayload(t *testing.T) {
	handler := TaskHandler{Aggregates: &stubAggregates{}, Runner: &Runner{Calculator: &blockingCalculator{}}}

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TaskRecalculate, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	raw, _ := json.Marshal(RecalculatePayload{AsOf: "yesterday"})
	err = handler.ProcessTask(context.Background(), asynq.NewTask(TaskRecalculate, raw))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessTaskRetriesWhenEverythingFails(t *testing.T) {
	loadErr := errors.New("db down")
	handler := TaskHandler{Aggregates: &stubAggregates{err: loadErr}, Runner: &Runner{Calculator: &blockingCalculator{}}}
	task, err := NewRecalculateTask(RecalculatePayload{})
	require.NoError(t, err)
	require.ErrorIs(t, handler.ProcessTask(context.Background(), task), loadErr)

	saver := &recordingSaver{failFor: "BEEF-RIB"}
	handler = TaskHandler{
		Aggregates: &stubAggregates{aggs: testAggregates()[:1]},
		Runner:     &Runner{Calculator: &pricing.Calculator{Source: pricing.Source{Store: testRules()}}, Saver: saver},
	}
	require.Error(t, handler.ProcessTask(context.Background(), task))

	saver.failFor = "PORK-BELLY"
	handler.Aggregates = &stubAggregates{aggs: testAggregates()}
	require.NoError(t, handler.ProcessTask(context.Background(), task))
}
