package store

import (
	"context"
	"testing"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

type memCache struct {
	entries map[string][]byte
	gets    int
}

func newMemCache() *memCache { return &memCache{entries: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.gets++
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.entries[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

func newTestMemStore() *memStoreForCacheTest {
	return &memStoreForCacheTest{tasks: make(map[string]research.Task), results: make(map[string]research.Result)}
}

// memStoreForCacheTest is a tiny in-memory Store, separate from any fake
// living in internal/engine's test files since those are package-internal
// to a different package.
type memStoreForCacheTest struct {
	tasks   map[string]research.Task
	results map[string]research.Result
}

func (s *memStoreForCacheTest) SaveTask(_ context.Context, t research.Task) error {
	s.tasks[t.TaskID] = t
	return nil
}

func (s *memStoreForCacheTest) GetTask(_ context.Context, taskID string) (*research.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (s *memStoreForCacheTest) UpdateTask(_ context.Context, taskID string, updates map[string]any) error {
	t := s.tasks[taskID]
	if v, ok := updates["status"]; ok {
		t.Status = research.Status(v.(string))
	}
	if v, ok := updates["progress"]; ok {
		t.Progress = v.(int)
	}
	s.tasks[taskID] = t
	return nil
}

func (s *memStoreForCacheTest) GetIncompleteTasks(_ context.Context) ([]research.Task, error) { return nil, nil }
func (s *memStoreForCacheTest) SaveResult(_ context.Context, taskID string, r research.Result) error {
	s.results[taskID] = r
	return nil
}

func (s *memStoreForCacheTest) GetResult(_ context.Context, taskID string) (*research.Result, error) {
	r, ok := s.results[taskID]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (s *memStoreForCacheTest) DeleteTask(_ context.Context, taskID string) (bool, error) {
	_, ok := s.tasks[taskID]
	delete(s.tasks, taskID)
	return ok, nil
}

func (s *memStoreForCacheTest) ListTasks(_ context.Context, _ int) ([]research.Task, error) { return nil, nil }

func (s *memStoreForCacheTest) SaveEvent(_ context.Context, _ research.Event) error { return nil }
func (s *memStoreForCacheTest) GetEvents(_ context.Context, _ string) ([]research.Event, error) {
	return nil, nil
}

func (s *memStoreForCacheTest) Close() error { return nil }

func TestCachedStoreBypassesCacheForNonTerminalTask(t *testing.T) {
	inner := newTestMemStore()
	c := newMemCache()
	cs := NewCachedStore(inner, c)
	ctx := context.Background()

	_ = inner.SaveTask(ctx, research.Task{TaskID: "t1", Status: research.StatusRunningAsync, Progress: 10})

	if _, err := cs.GetTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if len(c.entries) != 0 {
		t.Fatalf("expected non-terminal task not to be cached, got %d entries", len(c.entries))
	}
}

func TestCachedStoreCachesTerminalTask(t *testing.T) {
	inner := newTestMemStore()
	c := newMemCache()
	cs := NewCachedStore(inner, c)
	ctx := context.Background()

	_ = inner.SaveTask(ctx, research.Task{TaskID: "t1", Status: research.StatusCompleted, Progress: 100})

	first, err := cs.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", first.Progress)
	}

	// Mutate the underlying store directly; a cache hit should still
	// return the stale-but-correct cached terminal snapshot.
	inner.tasks["t1"] = research.Task{TaskID: "t1", Status: research.StatusCompleted, Progress: 0}

	second, err := cs.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if second.Progress != 100 {
		t.Fatalf("expected cached progress 100, got %d", second.Progress)
	}
}

func TestCachedStoreInvalidatesOnUpdate(t *testing.T) {
	inner := newTestMemStore()
	c := newMemCache()
	cs := NewCachedStore(inner, c)
	ctx := context.Background()

	_ = inner.SaveTask(ctx, research.Task{TaskID: "t1", Status: research.StatusCompleted})
	if _, err := cs.GetTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if len(c.entries) != 1 {
		t.Fatalf("expected one cached entry, got %d", len(c.entries))
	}

	if err := cs.UpdateTask(ctx, "t1", map[string]any{"progress": 50}); err != nil {
		t.Fatal(err)
	}
	if len(c.entries) != 0 {
		t.Fatalf("expected UpdateTask to invalidate the cache entry, got %d", len(c.entries))
	}
}

func TestCachedStoreCachesResult(t *testing.T) {
	inner := newTestMemStore()
	c := newMemCache()
	cs := NewCachedStore(inner, c)
	ctx := context.Background()

	_ = inner.SaveResult(ctx, "t1", research.Result{Report: "hello"})

	first, err := cs.GetResult(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Report != "hello" {
		t.Fatalf("expected report %q, got %q", "hello", first.Report)
	}
	if c.gets != 1 {
		t.Fatalf("expected exactly one cache lookup, got %d", c.gets)
	}

	if _, err := cs.GetResult(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if len(c.entries) != 1 {
		t.Fatalf("expected the result to be cached, got %d entries", len(c.entries))
	}
}
