// Package engine implements ResearchEngine, the orchestration core of the
// deep research task orchestrator: the task lifecycle state machine and the
// sole writer of non-initial StateStore updates.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
	"github.com/deepresearch-mcp/orchestrator/internal/estimator"
	"github.com/deepresearch-mcp/orchestrator/internal/executor"
	"github.com/deepresearch-mcp/orchestrator/internal/hangdetect"
	"github.com/deepresearch-mcp/orchestrator/internal/port/notifier"
	"github.com/deepresearch-mcp/orchestrator/internal/provider"
	"github.com/deepresearch-mcp/orchestrator/internal/store"
	"github.com/deepresearch-mcp/orchestrator/internal/telemetry"
)

// Config holds the lifecycle tuning knobs the engine needs, a subset of
// config.DeepResearch kept decoupled from the config package itself.
type Config struct {
	SyncBudget          time.Duration
	PollInterval        time.Duration
	DefaultMaxWaitHours int
}

// StartOutcome is returned by Start, reporting which path the task took.
type StartOutcome struct {
	Mode   string // "sync" or "async"
	Status research.Status
	Task   research.Task
	Result *research.Result
}

// CancelOutcome reports the effect of a cancel request.
type CancelOutcome struct {
	WasRunning   bool
	PartialSaved bool
}

// Engine is the ResearchEngine. All collaborators are injected explicitly;
// there are no package-level singletons.
type Engine struct {
	store    store.Store
	provider provider.Client
	exec     *executor.Executor
	notify   notifier.Notifier
	hangs    *hangdetect.Detector
	metrics  *telemetry.Metrics
	cfg      Config
	logger   *slog.Logger

	onTerminal func(ctx context.Context, taskID string, status research.Status)

	// partialOnCancel tracks which in-flight cancellations asked for the
	// best-available partial Result to be preserved, keyed by task_id. Set
	// by Cancel, consumed by the background unit's cancellation branch,
	// which has no other way to learn the caller's savePartial choice.
	partialOnCancel sync.Map // map[string]bool
}

// New creates an Engine with all dependencies. notify may be nil (disabled).
func New(st store.Store, pc provider.Client, exec *executor.Executor, notify notifier.Notifier, hangs *hangdetect.Detector, metrics *telemetry.Metrics, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		provider: pc,
		exec:     exec,
		notify:   notify,
		hangs:    hangs,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetOnTerminal registers a callback invoked once a task reaches a terminal
// status.
func (e *Engine) SetOnTerminal(fn func(ctx context.Context, taskID string, status research.Status)) {
	e.onTerminal = fn
}

// Start creates a new task, submits it to the provider, and races sync
// completion against SyncBudget before handing off to a background unit.
func (e *Engine) Start(ctx context.Context, req research.StartRequest) (StartOutcome, error) {
	if err := validateStartRequest(req); err != nil {
		return StartOutcome{}, err
	}

	maxWaitHours := req.MaxWaitHours
	if maxWaitHours == 0 {
		maxWaitHours = e.cfg.DefaultMaxWaitHours
	}

	now := time.Now().UTC()
	task := research.Task{
		TaskID:       newTaskID(),
		Query:        req.Query,
		Model:        req.Model,
		Status:       research.StatusPending,
		NotifyOnDone: req.NotifyOnDone,
		MaxWaitHours: maxWaitHours,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.SaveTask(ctx, task); err != nil {
		return StartOutcome{}, domain.Wrap(domain.KindStorage, err)
	}
	e.emitEvent(ctx, task.TaskID, research.EventTaskCreated, task.Query)

	submitted, err := e.provider.Submit(ctx, task.Query, task.Model)
	if err != nil {
		_ = e.store.UpdateTask(ctx, task.TaskID, map[string]any{
			"status":        string(research.StatusFailed),
			"error_message": err.Error(),
			"completed_at":  formatNow(),
		})
		return StartOutcome{}, domain.Wrap(domain.KindProviderUnavailable, err)
	}

	task.ProviderHandle = submitted.Handle
	task.Status = research.StatusRunningSync
	if err := e.store.UpdateTask(ctx, task.TaskID, map[string]any{
		"provider_handle": task.ProviderHandle,
		"status":          string(task.Status),
	}); err != nil {
		return StartOutcome{}, domain.Wrap(domain.KindStorage, err)
	}
	e.emitEvent(ctx, task.TaskID, research.EventTaskSyncStarted, "")

	if e.metrics != nil {
		e.metrics.TasksStarted.Add(ctx, 1)
	}

	syncCtx, cancelSync := context.WithTimeout(ctx, e.cfg.SyncBudget)
	defer cancelSync()

	final, result, syncErr := e.pollUntilDone(syncCtx, &task, true)
	if syncErr == nil && final.Status.Terminal() {
		if final.Status == research.StatusCompleted {
			return StartOutcome{Mode: "sync", Status: final.Status, Task: final, Result: result}, nil
		}
		// Sync-path failure/cancellation still finalizes synchronously;
		// no background unit is needed.
		return StartOutcome{Mode: "sync", Status: final.Status, Task: final}, nil
	}

	// Budget elapsed (or ctx cancelled upstream) before reaching a terminal
	// state: advance to RUNNING_ASYNC and detach into a background unit.
	if err := e.advanceToAsync(ctx, task.TaskID); err != nil {
		return StartOutcome{}, err
	}

	if err := e.exec.Submit(context.Background(), task.TaskID, func(unitCtx context.Context) error {
		return e.runPollingUnit(unitCtx, task.TaskID)
	}); err != nil {
		return StartOutcome{}, err
	}

	task.Status = research.StatusRunningAsync
	return StartOutcome{Mode: "async", Status: task.Status, Task: task}, nil
}

func (e *Engine) advanceToAsync(ctx context.Context, taskID string) error {
	current, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Wrap(domain.KindStorage, err)
	}
	if current.Status.Terminal() {
		// A concurrent observer already finalized the task; never downgrade.
		return nil
	}
	if err := e.store.UpdateTask(ctx, taskID, map[string]any{"status": string(research.StatusRunningAsync)}); err != nil {
		return err
	}
	e.emitEvent(ctx, taskID, research.EventTaskWentAsync, "")
	return nil
}

// emitEvent appends a lifecycle Event to the task's audit trail. Failures
// are logged, not propagated: a missed audit entry must never block the
// state transition it describes.
func (e *Engine) emitEvent(ctx context.Context, taskID string, eventType research.EventType, detail string) {
	err := e.store.SaveEvent(ctx, research.Event{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      eventType,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("engine: failed to persist event", "task_id", taskID, "type", eventType, "error", err)
	}
}

// pollUntilDone polls the provider until ctx is done or the task reaches a
// terminal status, persisting every observed update. It drives the sync
// race; the background unit (runPollingUnit) runs its own loop over the same
// pollOnce, so both apply identical state-machine rules. suppressNotify is
// true only for the sync race: a task that reaches
// a terminal status before the caller's synchronous response is returned
// never fires a notification, since the caller already has the answer.
func (e *Engine) pollUntilDone(ctx context.Context, task *research.Task, suppressNotify bool) (research.Task, *research.Result, error) {
	first := true
	for {
		if !first {
			select {
			case <-ctx.Done():
				return *task, nil, ctx.Err()
			case <-time.After(e.cfg.PollInterval):
			}
		}
		first = false

		select {
		case <-ctx.Done():
			return *task, nil, ctx.Err()
		default:
		}

		result, final, err := e.pollOnce(ctx, task, suppressNotify)
		if err != nil {
			return *task, nil, err
		}
		if final {
			return *task, result, nil
		}
	}
}

// runPollingUnit is the background unit body. Like pollUntilDone it polls
// immediately and then every PollInterval, but it runs against a long-lived
// context supplied by the executor, fails the task once max_wait_hours is
// exceeded, finalizes it as CANCELLED when that context is cancelled, and
// otherwise stops only on a terminal status.
func (e *Engine) runPollingUnit(ctx context.Context, taskID string) error {
	first := true
	for {
		task, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return domain.Wrap(domain.KindStorage, err)
		}
		if task.Status.Terminal() {
			return nil
		}

		if !first {
			select {
			case <-ctx.Done():
				e.handleCancellation(context.Background(), task)
				return ctx.Err()
			case <-time.After(e.cfg.PollInterval):
			}
		}
		first = false

		select {
		case <-ctx.Done():
			e.handleCancellation(context.Background(), task)
			return ctx.Err()
		default:
		}

		if e.exceededMaxWait(*task) {
			e.finalize(ctx, task, research.StatusFailed, "background unit exceeded max_wait_hours", nil, false)
			return nil
		}

		_, final, err := e.pollOnce(ctx, task, false)
		if err != nil {
			if ctx.Err() != nil {
				e.handleCancellation(context.Background(), task)
				return ctx.Err()
			}
			return err
		}
		if final {
			return nil
		}
	}
}

// pollOnce issues a single provider.Poll call and applies the resulting
// state transition. Returns the Result when the task just became
// COMPLETED, and final=true when the task reached any terminal status.
func (e *Engine) pollOnce(ctx context.Context, task *research.Task, suppressNotify bool) (*research.Result, bool, error) {
	pollStart := time.Now()
	poll, err := e.provider.Poll(ctx, task.ProviderHandle)
	if e.metrics != nil {
		e.metrics.PollLatency.Record(ctx, time.Since(pollStart).Seconds())
	}
	if err != nil {
		return nil, false, domain.Wrap(domain.KindProviderUnavailable, err)
	}

	if e.hangs != nil {
		progress := task.Progress
		if poll.Progress != nil {
			progress = *poll.Progress
		}
		e.hangs.RecordProgress(task.TaskID, progress, poll.CurrentAction, string(poll.State))
	}

	switch poll.State {
	case provider.StateRunning:
		updates := map[string]any{
			"current_action": poll.CurrentAction,
			"tokens_input":    poll.Tokens.Input,
			"tokens_output":   poll.Tokens.Output,
			"cost_usd":        research.TokenUsage{Input: poll.Tokens.Input, Output: poll.Tokens.Output}.EstimateCostUSD(),
		}
		progressed := poll.Progress != nil && *poll.Progress > task.Progress
		if progressed {
			updates["progress"] = *poll.Progress
			task.Progress = *poll.Progress
		}
		task.CurrentAction = poll.CurrentAction
		if err := e.store.UpdateTask(ctx, task.TaskID, updates); err != nil {
			return nil, false, domain.Wrap(domain.KindStorage, err)
		}
		if progressed {
			e.emitEvent(ctx, task.TaskID, research.EventTaskProgressed, fmt.Sprintf("%d%%", task.Progress))
		}
		return nil, false, nil

	case provider.StateCompleted:
		sources := make([]research.Source, 0, len(poll.Sources))
		for _, s := range poll.Sources {
			sources = append(sources, research.Source{Title: s.Title, URL: s.URL, Snippet: s.Snippet, RelevanceScore: s.RelevanceScore})
		}
		result := research.Result{TaskID: task.TaskID, Report: poll.Report, Sources: sources, CreatedAt: time.Now().UTC()}
		if err := e.store.SaveResult(ctx, task.TaskID, result); err != nil {
			return nil, false, domain.Wrap(domain.KindStorage, err)
		}
		usage := research.TokenUsage{Input: poll.Tokens.Input, Output: poll.Tokens.Output}
		if err := e.store.UpdateTask(ctx, task.TaskID, map[string]any{
			"tokens_input":  usage.Input,
			"tokens_output": usage.Output,
			"cost_usd":      usage.EstimateCostUSD(),
		}); err != nil {
			return nil, false, domain.Wrap(domain.KindStorage, err)
		}
		task.TokensIn, task.TokensOut = usage.Input, usage.Output
		e.finalize(ctx, task, research.StatusCompleted, "", &result, suppressNotify)
		return &result, true, nil

	case provider.StateFailed:
		e.finalize(ctx, task, research.StatusFailed, poll.Error, nil, suppressNotify)
		return nil, true, nil

	case provider.StateExpired:
		e.finalize(ctx, task, research.StatusFailed, "provider session was discarded by the remote side", nil, suppressNotify)
		return nil, true, nil

	default:
		return nil, false, domain.NewError(domain.KindProviderFailed, fmt.Sprintf("unrecognized provider state %q", poll.State))
	}
}

func (e *Engine) exceededMaxWait(task research.Task) bool {
	maxWait := time.Duration(task.MaxWaitHours) * time.Hour
	return time.Since(task.CreatedAt) > maxWait
}

// finalize persists a terminal status transition, emits a notification when
// requested, and invokes the onTerminal hook. message, when non-empty,
// becomes the task's error_message and the notification body; suppressNotify
// forces silence regardless of NotifyOnDone, used for the sync race where
// the caller already receives the outcome synchronously.
func (e *Engine) finalize(ctx context.Context, task *research.Task, status research.Status, message string, result *research.Result, suppressNotify bool) {
	updates := map[string]any{
		"status":       string(status),
		"completed_at": formatNow(),
	}
	if message != "" {
		updates["error_message"] = message
	}
	if status == research.StatusCompleted {
		updates["progress"] = 100
		task.Progress = 100
	}
	if err := e.store.UpdateTask(ctx, task.TaskID, updates); err != nil {
		e.logger.Error("engine: failed to persist terminal status", "task_id", task.TaskID, "error", err)
	}
	task.Status = status

	if e.metrics != nil {
		switch status {
		case research.StatusCompleted:
			e.metrics.TasksCompleted.Add(ctx, 1)
		case research.StatusFailed:
			e.metrics.TasksFailed.Add(ctx, 1)
		case research.StatusCancelled:
			e.metrics.TasksCancelled.Add(ctx, 1)
		}
	}

	switch status {
	case research.StatusCompleted:
		e.emitEvent(ctx, task.TaskID, research.EventTaskCompleted, "")
	case research.StatusFailed:
		e.emitEvent(ctx, task.TaskID, research.EventTaskFailed, message)
	case research.StatusCancelled:
		e.emitEvent(ctx, task.TaskID, research.EventTaskCancelled, message)
	}

	if !suppressNotify && task.NotifyOnDone && e.notify != nil {
		level := "success"
		body := message
		if status != research.StatusCompleted {
			level = "error"
		}
		if body == "" {
			body = fmt.Sprintf("research task %s is %s", task.TaskID, status)
		}
		_ = e.notify.Send(context.Background(), notifier.Notification{
			Title:   fmt.Sprintf("Research task %s", status),
			Message: body,
			Level:   level,
			Source:  "research.task." + string(status),
		})
	}

	if e.onTerminal != nil {
		e.onTerminal(ctx, task.TaskID, status)
	}
}

// handleCancellation finalizes a task as CANCELLED, persisting the
// best-available partial Result if Cancel was called with savePartial.
func (e *Engine) handleCancellation(ctx context.Context, task *research.Task) {
	savePartial, _ := e.partialOnCancel.LoadAndDelete(task.TaskID)
	if savePartial == true {
		partial := research.Result{
			TaskID:    task.TaskID,
			Report:    "",
			CreatedAt: time.Now().UTC(),
			Metadata: map[string]interface{}{
				"progress":       task.Progress,
				"current_action": task.CurrentAction,
				"partial":        true,
			},
		}
		if err := e.store.SaveResult(ctx, task.TaskID, partial); err != nil {
			e.logger.Error("engine: failed to persist partial result", "task_id", task.TaskID, "error", err)
		}
	}
	e.finalize(ctx, task, research.StatusCancelled, "research task cancelled", nil, false)
}

// Cancel requests cancellation of a running task. savePartial controls
// whether the background unit, upon observing cancellation, persists the
// best-available partial Result.
func (e *Engine) Cancel(ctx context.Context, taskID string, savePartial bool) (CancelOutcome, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return CancelOutcome{}, domain.Wrap(domain.KindNotFound, err)
	}
	if task.Status.Terminal() {
		return CancelOutcome{}, domain.NewError(domain.KindAlreadyTerminal, fmt.Sprintf("task %s is already %s", taskID, task.Status))
	}

	wasRunning := e.exec.IsRunning(taskID)
	if savePartial {
		e.partialOnCancel.Store(taskID, true)
	}
	e.exec.Cancel(taskID)

	if !wasRunning {
		// No background unit was tracked (e.g. still in the sync race, or
		// recovery hasn't re-attached it yet); finalize directly.
		e.handleCancellation(ctx, task)
	}

	return CancelOutcome{WasRunning: wasRunning, PartialSaved: savePartial}, nil
}

// Estimate proxies to the cost estimator; it performs no state changes.
func (e *Engine) Estimate(query string) research.CostEstimate {
	return estimator.Estimate(query)
}

// RecoverOnStartup re-attaches background polling units for every task left
// in a non-terminal status by a prior process.
func (e *Engine) RecoverOnStartup(ctx context.Context) error {
	incomplete, err := e.store.GetIncompleteTasks(ctx)
	if err != nil {
		return domain.Wrap(domain.KindStorage, err)
	}

	for _, task := range incomplete {
		task := task
		if task.ProviderHandle == "" {
			_ = e.store.UpdateTask(ctx, task.TaskID, map[string]any{
				"status":        string(research.StatusFailed),
				"error_message": "interrupted before submission",
				"completed_at":  formatNow(),
			})
			continue
		}
		if task.Status == research.StatusRunningSync {
			_ = e.store.UpdateTask(ctx, task.TaskID, map[string]any{"status": string(research.StatusRunningAsync)})
		}
		if err := e.exec.Submit(context.Background(), task.TaskID, func(unitCtx context.Context) error {
			return e.runPollingUnit(unitCtx, task.TaskID)
		}); err != nil {
			e.logger.Error("engine: failed to re-attach recovered task", "task_id", task.TaskID, "error", err)
		}
	}
	return nil
}

func validateStartRequest(req research.StartRequest) error {
	if l := len(req.Query); l < 3 || l > 10_000 {
		return domain.InvalidInput("query", "query must be between 3 and 10000 characters")
	}
	if req.MaxWaitHours != 0 && (req.MaxWaitHours < 1 || req.MaxWaitHours > 24) {
		return domain.InvalidInput("max_wait_hours", "max_wait_hours must be between 1 and 24")
	}
	return nil
}

func newTaskID() string {
	return uuid.NewString()
}

func formatNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
