package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/store"
)

// SummaryResult is the task result stored for a finished recalculation.
type SummaryResult struct {
	RunID      string  `json:"run_id"`
	Total      int     `json:"total"`
	Priced     int     `json:"priced"`
	Unmatched  int     `json:"unmatched"`
	NoData     int     `json:"no_data"`
	Failed     int     `json:"failed"`
	DurationMS float64 `json:"duration_ms"`
}

func newSummaryResult(sum Summary) SummaryResult {
	return SummaryResult{
		RunID:      sum.RunID.String(),
		Total:      sum.Total,
		Priced:     sum.Priced,
		Unmatched:  sum.Unmatched,
		NoData:     sum.NoData,
		Failed:     sum.Failed,
		DurationMS: obs.DurationMillis(sum.Duration),
	}
}

// Status describes a queued recalculation task.
type Status struct {
	TaskID      string
	Queue       string
	State       string
	Retried     int
	MaxRetry    int
	LastError   string
	CompletedAt *time.Time
	Result      *SummaryResult
}

// TaskInspector is satisfied by *asynq.Inspector.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// StatusReader looks up recalculation tasks on one queue.
type StatusReader struct {
	Inspector TaskInspector
	Queue     string
}

// Status returns the state of task id. Unknown ids wrap store.ErrNotFound.
func (s StatusReader) Status(ctx context.Context, id string) (Status, error) {
	if s.Inspector == nil {
		return Status{}, errors.New("batch: task inspector not configured")
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	queue := strings.TrimSpace(s.Queue)
	if queue == "" {
		queue = "default"
	}
	info, err := s.Inspector.GetTaskInfo(queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return Status{}, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return Status{}, fmt.Errorf("inspect task %s: %w", id, err)
	}
	if info.Type != TaskRecalculate {
		return Status{}, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}

	st := Status{
		TaskID:    info.ID,
		Queue:     info.Queue,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if !info.CompletedAt.IsZero() {
		at := info.CompletedAt.UTC()
		st.CompletedAt = &at
	}
	if len(info.Result) > 0 {
		var res SummaryResult
		if err := json.Unmarshal(info.Result, &res); err == nil {
			st.Result = &res
		}
	}
	return st, nil
}
