package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
	"github.com/deepresearch-mcp/orchestrator/internal/resilience"
)

// Store implements store.Store backed by a SQLite database.
type Store struct {
	db    *sql.DB
	retry resilience.RetryPolicy
}

// NewStore wraps an already-opened, already-migrated SQLite database. retry
// governs how SaveTask/UpdateTask/SaveResult absorb transient "database is
// locked" contention from the engine's concurrent poll goroutines.
func NewStore(db *sql.DB, retry resilience.RetryPolicy) *Store {
	return &Store{db: db, retry: retry}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveTask(ctx context.Context, t research.Task) error {
	return resilience.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO research_tasks
				(task_id, provider_handle, query, model, status, progress, current_action,
				 notify_on_done, max_wait_hours, tokens_input, tokens_output, cost_usd, error_message,
				 created_at, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO UPDATE SET
				provider_handle = excluded.provider_handle,
				query = excluded.query,
				model = excluded.model,
				status = excluded.status,
				progress = excluded.progress,
				current_action = excluded.current_action,
				notify_on_done = excluded.notify_on_done,
				max_wait_hours = excluded.max_wait_hours,
				tokens_input = excluded.tokens_input,
				tokens_output = excluded.tokens_output,
				cost_usd = excluded.cost_usd,
				error_message = excluded.error_message,
				updated_at = excluded.updated_at,
				completed_at = excluded.completed_at
		`,
			t.TaskID, nullIfEmpty(t.ProviderHandle), t.Query, t.Model, string(t.Status), t.Progress,
			nullIfEmpty(t.CurrentAction), t.NotifyOnDone, t.MaxWaitHours, t.TokensIn, t.TokensOut, t.CostUSD,
			nullIfEmpty(t.ErrorMessage), formatTime(t.CreatedAt), formatTime(time.Now().UTC()),
			nullTime(t.CompletedAt),
		)
		return err
	})
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*research.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, provider_handle, query, model, status, progress, current_action,
		       notify_on_done, max_wait_hours, tokens_input, tokens_output, cost_usd, error_message,
		       created_at, updated_at, completed_at
		FROM research_tasks WHERE task_id = ?`, taskID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Wrap(domain.KindNotFound, err)
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, err)
	}
	return t, nil
}

// UpdateTask applies a partial set of column updates. Keys must match the
// research_tasks column names; updated_at is always bumped.
func (s *Store) UpdateTask(ctx context.Context, taskID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	return resilience.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		setClauses := make([]string, 0, len(updates)+1)
		args := make([]any, 0, len(updates)+2)
		for col, val := range updates {
			if !allowedTaskColumns[col] {
				return domain.NewError(domain.KindInvalidInput, fmt.Sprintf("unknown task column %q", col))
			}
			setClauses = append(setClauses, col+" = ?")
			args = append(args, val)
		}
		setClauses = append(setClauses, "updated_at = ?")
		args = append(args, formatTime(time.Now().UTC()))
		args = append(args, taskID)

		query := "UPDATE research_tasks SET " + strings.Join(setClauses, ", ") + " WHERE task_id = ?"
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.Wrap(domain.KindNotFound, fmt.Errorf("task %s not found", taskID))
		}
		return nil
	})
}

var allowedTaskColumns = map[string]bool{
	"provider_handle": true, "status": true, "progress": true, "current_action": true,
	"tokens_input": true, "tokens_output": true, "cost_usd": true, "error_message": true,
	"completed_at": true,
}

func (s *Store) GetIncompleteTasks(ctx context.Context) ([]research.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, provider_handle, query, model, status, progress, current_action,
		       notify_on_done, max_wait_hours, tokens_input, tokens_output, cost_usd, error_message,
		       created_at, updated_at, completed_at
		FROM research_tasks WHERE status IN ('running_sync', 'running_async', 'pending')`)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, err)
	}
	defer rows.Close()

	var tasks []research.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindStorage, err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) ListTasks(ctx context.Context, limit int) ([]research.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, provider_handle, query, model, status, progress, current_action,
		       notify_on_done, max_wait_hours, tokens_input, tokens_output, cost_usd, error_message,
		       created_at, updated_at, completed_at
		FROM research_tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, err)
	}
	defer rows.Close()

	var tasks []research.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindStorage, err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) SaveResult(ctx context.Context, taskID string, result research.Result) error {
	sourcesJSON, err := json.Marshal(result.Sources)
	if err != nil {
		return domain.Wrap(domain.KindInvalidInput, err)
	}
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return domain.Wrap(domain.KindInvalidInput, err)
	}

	return resilience.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO research_results (task_id, report_markdown, sources_json, metadata_json, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO UPDATE SET
				report_markdown = excluded.report_markdown,
				sources_json = excluded.sources_json,
				metadata_json = excluded.metadata_json
		`, taskID, result.Report, string(sourcesJSON), string(metadataJSON), formatTime(time.Now().UTC()))
		return err
	})
}

func (s *Store) GetResult(ctx context.Context, taskID string) (*research.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, report_markdown, sources_json, metadata_json, created_at
		FROM research_results WHERE task_id = ?`, taskID)

	var (
		id, createdAtStr      string
		report                sql.NullString
		sourcesJSON, metaJSON sql.NullString
	)
	if err := row.Scan(&id, &report, &sourcesJSON, &metaJSON, &createdAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Wrap(domain.KindNotFound, err)
		}
		return nil, domain.Wrap(domain.KindStorage, err)
	}

	result := research.Result{TaskID: id, Report: report.String}
	if sourcesJSON.Valid && sourcesJSON.String != "" {
		if err := json.Unmarshal([]byte(sourcesJSON.String), &result.Sources); err != nil {
			return nil, domain.Wrap(domain.KindStorage, err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &result.Metadata); err != nil {
			return nil, domain.Wrap(domain.KindStorage, err)
		}
	}
	result.CreatedAt = parseTime(createdAtStr)
	return &result, nil
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	var deleted bool
	err := resilience.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM research_results WHERE task_id = ?`, taskID); err != nil {
			return domain.Wrap(domain.KindStorage, err)
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM research_tasks WHERE task_id = ?`, taskID)
		if err != nil {
			return domain.Wrap(domain.KindStorage, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.Wrap(domain.KindStorage, err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func (s *Store) SaveEvent(ctx context.Context, e research.Event) error {
	return resilience.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO research_events (id, task_id, type, detail, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, e.ID, e.TaskID, string(e.Type), nullIfEmpty(e.Detail), formatTime(e.CreatedAt))
		return err
	})
}

func (s *Store) GetEvents(ctx context.Context, taskID string) ([]research.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, type, detail, created_at
		FROM research_events WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, err)
	}
	defer rows.Close()

	var events []research.Event
	for rows.Next() {
		var (
			e            research.Event
			eventType    string
			detail       sql.NullString
			createdAtStr string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &eventType, &detail, &createdAtStr); err != nil {
			return nil, domain.Wrap(domain.KindStorage, err)
		}
		e.Type = research.EventType(eventType)
		e.Detail = detail.String
		e.CreatedAt = parseTime(createdAtStr)
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for a shared scan helper.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*research.Task, error) {
	var (
		t                                      research.Task
		providerHandle, currentAction, errMsg  sql.NullString
		completedAt                            sql.NullString
		createdAtStr, updatedAtStr             string
		status                                 string
	)
	if err := row.Scan(
		&t.TaskID, &providerHandle, &t.Query, &t.Model, &status, &t.Progress, &currentAction,
		&t.NotifyOnDone, &t.MaxWaitHours, &t.TokensIn, &t.TokensOut, &t.CostUSD, &errMsg,
		&createdAtStr, &updatedAtStr, &completedAt,
	); err != nil {
		return nil, err
	}

	t.ProviderHandle = providerHandle.String
	t.CurrentAction = currentAction.String
	t.ErrorMessage = errMsg.String
	t.Status = research.Status(status)
	t.CreatedAt = parseTime(createdAtStr)
	t.UpdatedAt = parseTime(updatedAtStr)
	if completedAt.Valid {
		t.CompletedAt = parseTime(completedAt.String)
	}
	return &t, nil
}

const timeLayout = "2006-01-02 15:04:05.999999999-07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
