// Package store defines the StateStore port (interface) for persisting
// research tasks and their results.
package store

import (
	"context"

	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

// Store is the port interface for task/result persistence.
type Store interface {
	SaveTask(ctx context.Context, task research.Task) error
	GetTask(ctx context.Context, taskID string) (*research.Task, error)
	UpdateTask(ctx context.Context, taskID string, updates map[string]any) error

	// GetIncompleteTasks returns tasks left in a non-terminal status, for
	// recovery on startup.
	GetIncompleteTasks(ctx context.Context) ([]research.Task, error)

	SaveResult(ctx context.Context, taskID string, result research.Result) error
	GetResult(ctx context.Context, taskID string) (*research.Result, error)

	DeleteTask(ctx context.Context, taskID string) (bool, error)
	ListTasks(ctx context.Context, limit int) ([]research.Task, error)

	// SaveEvent appends an immutable lifecycle Event to a task's audit trail.
	SaveEvent(ctx context.Context, event research.Event) error
	// GetEvents returns a task's audit trail in chronological order.
	GetEvents(ctx context.Context, taskID string) ([]research.Event, error)

	Close() error
}
