package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/store"
)

type stubInspector map[string]*asynq.TaskInfo

func (s stubInspector) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	if queue != "pricing" {
		return nil, asynq.ErrQueueNotFound
	}
	info, ok := s[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return info, nil
}

func TestStatusReaderReportsCompletedTask(t *testing.T) {
	done := time.Date(2025, 3, 1, 6, 30, 0, 0, time.UTC)
	result, err := json.Marshal(SummaryResult{RunID: "run-1", Total: 4, Priced: 2, Unmatched: 1, NoData: 1})
	require.NoError(t, err)

	reader := StatusReader{Queue: "pricing", Inspector: stubInspector{
		"task-1": {ID: "task-1", Queue: "pricing", Type: TaskRecalculate, State: asynq.TaskStateCompleted, MaxRetry: 3, CompletedAt: done, Result: result},
		"other":  {ID: "other", Queue: "pricing", Type: "email:send", State: asynq.TaskStatePending},
	}}

	st, err := reader.Status(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, "completed", st.State)
	require.Equal(t, 3, st.MaxRetry)
	require.NotNil(t, st.CompletedAt)
	require.True(t, done.Equal(*st.CompletedAt))
	require.NotNil(t, st.Result)
	require.Equal(t, 2, st.Result.Priced)

	_, err = reader.Status(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = reader.Status(context.Background(), "other")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = StatusReader{Queue: "elsewhere", Inspector: reader.Inspector}.Status(context.Background(), "task-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatusReaderPendingTaskHasNoResult(t *testing.T) {
	reader := StatusReader{Queue: "pricing", Inspector: stubInspector{
		"task-2": {ID: "task-2", Queue: "pricing", Type: TaskRecalculate, State: asynq.TaskStateRetry, Retried: 1, LastErr: "db down"},
	}}
	st, err := reader.Status(context.Background(), "task-2")
	require.NoError(t, err)
	require.Equal(t, "retry", st.State)
	require.Equal(t, "db down", st.LastError)
	require.Nil(t, st.CompletedAt)
	require.Nil(t, st.Result)

	_, err = StatusReader{}.Status(context.Background(), "task-2")
	require.Error(t, err)
	require.False(t, errors.Is(err, store.ErrNotFound))
}
