package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
	"github.com/deepresearch-mcp/orchestrator/internal/port/cache"
)

// cacheTTL is generous because cached entries are only ever written for
// data that cannot change again (a terminal task, or a result, which is
// written exactly once).
const cacheTTL = 10 * time.Minute

// CachedStore wraps a Store with an L1 read cache in front of GetTask and
// GetResult. Status polling is the hottest path in the system (a client
// polling a long-running task hits it every poll_interval); caching it
// matters once a task reaches a terminal status and rows stop changing.
// Non-terminal tasks always bypass the cache, since caching a row that is
// still being mutated would serve stale progress.
type CachedStore struct {
	inner Store
	cache cache.Cache
}

// NewCachedStore wraps inner with an L1 read cache.
func NewCachedStore(inner Store, c cache.Cache) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

func (s *CachedStore) SaveTask(ctx context.Context, task research.Task) error {
	return s.inner.SaveTask(ctx, task)
}

func (s *CachedStore) GetTask(ctx context.Context, taskID string) (*research.Task, error) {
	key := "task:" + taskID
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var t research.Task
		if err := json.Unmarshal(raw, &t); err == nil {
			return &t, nil
		}
	}

	task, err := s.inner.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return task, err
	}
	if task.Status.Terminal() {
		if raw, err := json.Marshal(task); err == nil {
			_ = s.cache.Set(ctx, key, raw, cacheTTL)
		}
	}
	return task, nil
}

// UpdateTask always invalidates the cached copy: a row that is still being
// updated must never be served from cache.
func (s *CachedStore) UpdateTask(ctx context.Context, taskID string, updates map[string]any) error {
	if err := s.inner.UpdateTask(ctx, taskID, updates); err != nil {
		return err
	}
	return s.cache.Delete(ctx, "task:"+taskID)
}

func (s *CachedStore) GetIncompleteTasks(ctx context.Context) ([]research.Task, error) {
	return s.inner.GetIncompleteTasks(ctx)
}

func (s *CachedStore) SaveResult(ctx context.Context, taskID string, result research.Result) error {
	return s.inner.SaveResult(ctx, taskID, result)
}

func (s *CachedStore) GetResult(ctx context.Context, taskID string) (*research.Result, error) {
	key := "result:" + taskID
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var r research.Result
		if err := json.Unmarshal(raw, &r); err == nil {
			return &r, nil
		}
	}

	result, err := s.inner.GetResult(ctx, taskID)
	if err != nil || result == nil {
		return result, err
	}
	if raw, err := json.Marshal(result); err == nil {
		_ = s.cache.Set(ctx, key, raw, cacheTTL)
	}
	return result, nil
}

func (s *CachedStore) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	deleted, err := s.inner.DeleteTask(ctx, taskID)
	if err != nil {
		return deleted, err
	}
	_ = s.cache.Delete(ctx, "task:"+taskID)
	_ = s.cache.Delete(ctx, "result:"+taskID)
	return deleted, nil
}

func (s *CachedStore) ListTasks(ctx context.Context, limit int) ([]research.Task, error) {
	return s.inner.ListTasks(ctx, limit)
}

func (s *CachedStore) SaveEvent(ctx context.Context, event research.Event) error {
	return s.inner.SaveEvent(ctx, event)
}

func (s *CachedStore) GetEvents(ctx context.Context, taskID string) ([]research.Event, error) {
	return s.inner.GetEvents(ctx, taskID)
}

func (s *CachedStore) Close() error {
	return s.inner.Close()
}
