package engine

import (
	"context"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

// Status is the read-only snapshot the `status` tool returns.
type Status struct {
	TaskID                     string
	TaskStatus                 research.Status
	Progress                   int
	CurrentAction              string
	ElapsedMinutes             float64
	Tokens                     research.TokenUsage
	CostSoFar                  float64
	EstimatedCompletionMinutes *float64
}

// GetStatus reads a task's current lifecycle snapshot, overlaying the hang
// detector's remaining-time estimate when available. It performs no
// provider calls.
func (e *Engine) GetStatus(ctx context.Context, taskID string) (Status, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return Status{}, domain.Wrap(domain.KindNotFound, err)
	}

	st := Status{
		TaskID:         task.TaskID,
		TaskStatus:     task.Status,
		Progress:       task.Progress,
		CurrentAction:  task.CurrentAction,
		ElapsedMinutes: time.Since(task.CreatedAt).Minutes(),
		Tokens:         research.TokenUsage{Input: task.TokensIn, Output: task.TokensOut},
		CostSoFar:      task.CostUSD,
	}

	if e.hangs != nil && !task.Status.Terminal() {
		st.EstimatedCompletionMinutes = e.hangs.EstimateRemainingMinutes(taskID)
	}

	return st, nil
}

// GetResult reads a completed task's Result. Fails with NotCompleted if the
// task has no Result available yet.
func (e *Engine) GetResult(ctx context.Context, taskID string, includeSources bool) (research.Task, research.Result, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return research.Task{}, research.Result{}, domain.Wrap(domain.KindNotFound, err)
	}
	if task.Status != research.StatusCompleted && task.Status != research.StatusCancelled {
		return research.Task{}, research.Result{}, domain.NewError(domain.KindNotCompleted, "task has no result available yet")
	}

	result, err := e.store.GetResult(ctx, taskID)
	if err != nil {
		return research.Task{}, research.Result{}, domain.Wrap(domain.KindNotCompleted, err)
	}
	if !includeSources {
		result.Sources = nil
	}
	return *task, *result, nil
}
