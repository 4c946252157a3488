// Package executor runs background research units: keyed goroutines with
// replace-and-cancel semantics, bounded by a concurrency cap and a FIFO
// overflow queue, so the engine's async handoff never spawns unbounded work.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
)

// Unit is the work a background task runs. It must respect ctx cancellation.
type Unit func(ctx context.Context) error

// OnComplete is invoked once a unit finishes, successfully, with an error,
// or because its context was cancelled.
type OnComplete func(taskID string, err error)

// Executor runs at most cap Units concurrently, queuing overflow up to
// queueSize and rejecting submissions beyond that with
// domain.KindCapacityExceeded. Grounded on the keyed-registry,
// replace-and-cancel pattern of a Python asyncio task manager, translated to
// goroutines plus a weighted semaphore for the concurrency cap.
type Executor struct {
	sem   *semaphore.Weighted
	queue chan struct{} // slots for running plus queued units; buffered to cap+queueSize

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	onComplete OnComplete
	logger     *slog.Logger
}

// New creates an Executor allowing cap concurrent units and queueSize queued
// submissions beyond that. onComplete may be nil.
func New(cap, queueSize int, onComplete OnComplete, logger *slog.Logger) *Executor {
	if cap < 1 {
		cap = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sem:        semaphore.NewWeighted(int64(cap)),
		queue:      make(chan struct{}, cap+queueSize),
		cancels:    make(map[string]context.CancelFunc),
		onComplete: onComplete,
		logger:     logger,
	}
}

// Submit starts unit under the key taskID. If taskID is already running, the
// prior run is cancelled and replaced. If the executor is at capacity and the
// overflow queue is also full, Submit returns a domain.KindCapacityExceeded
// error immediately rather than blocking the caller.
func (e *Executor) Submit(ctx context.Context, taskID string, unit Unit) error {
	select {
	case e.queue <- struct{}{}:
	default:
		return domain.NewError(domain.KindCapacityExceeded, fmt.Sprintf("background executor saturated, rejecting task %s", taskID))
	}

	e.cancelExisting(taskID)

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[taskID] = cancel
	e.mu.Unlock()

	go e.run(runCtx, cancel, taskID, unit)
	return nil
}

func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, taskID string, unit Unit) {
	defer func() { <-e.queue }()
	defer cancel()
	defer e.clearCancel(taskID)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.logger.Debug("executor: unit cancelled before acquiring a slot", "task_id", taskID)
		// The unit still runs once against its cancelled context, so it can
		// observe the cancellation and record it.
		if uerr := unit(ctx); uerr != nil {
			err = uerr
		}
		if e.onComplete != nil {
			e.onComplete(taskID, err)
		}
		return
	}
	defer e.sem.Release(1)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("background unit panicked: %v", r)
			}
		}()
		return unit(ctx)
	}()

	if err != nil {
		e.logger.Error("executor: unit failed", "task_id", taskID, "error", err)
	} else {
		e.logger.Debug("executor: unit completed", "task_id", taskID)
	}

	if e.onComplete != nil {
		e.onComplete(taskID, err)
	}
}

// Cancel requests cancellation of the running unit for taskID. Returns false
// if no unit is tracked under taskID (already completed or never started).
func (e *Executor) Cancel(taskID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[taskID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// IsRunning reports whether taskID currently has a tracked unit.
func (e *Executor) IsRunning(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cancels[taskID]
	return ok
}

// RunningIDs returns the task IDs currently tracked (running or just-finished
// but not yet cleaned up), letting a caller reconcile which tasks are
// actually live against whichever it has persisted as non-terminal.
func (e *Executor) RunningIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.cancels))
	for taskID := range e.cancels {
		ids = append(ids, taskID)
	}
	return ids
}

func (e *Executor) cancelExisting(taskID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Executor) clearCancel(taskID string) {
	e.mu.Lock()
	delete(e.cancels, taskID)
	e.mu.Unlock()
}
