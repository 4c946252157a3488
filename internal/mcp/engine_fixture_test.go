package mcp_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
	"github.com/deepresearch-mcp/orchestrator/internal/engine"
	"github.com/deepresearch-mcp/orchestrator/internal/executor"
	"github.com/deepresearch-mcp/orchestrator/internal/provider"
)

// fixtureStore is a minimal in-memory store.Store, scoped to exercising the
// MCP tool handlers rather than the engine's lifecycle edge cases (those are
// covered in internal/engine's own tests).
type fixtureStore struct {
	mu      sync.Mutex
	tasks   map[string]research.Task
	results map[string]research.Result
}

func newFixtureStore() *fixtureStore {
	return &fixtureStore{tasks: make(map[string]research.Task), results: make(map[string]research.Result)}
}

func (s *fixtureStore) SaveTask(_ context.Context, t research.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID] = t
	return nil
}

func (s *fixtureStore) GetTask(_ context.Context, taskID string) (*research.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	cp := t
	return &cp, nil
}

func (s *fixtureStore) UpdateTask(_ context.Context, taskID string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return domain.NewError(domain.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	for col, val := range updates {
		switch col {
		case "provider_handle":
			t.ProviderHandle = val.(string)
		case "status":
			t.Status = research.Status(val.(string))
		case "progress":
			t.Progress = val.(int)
		case "current_action":
			t.CurrentAction = val.(string)
		case "tokens_input":
			t.TokensIn = val.(int)
		case "tokens_output":
			t.TokensOut = val.(int)
		case "cost_usd":
			t.CostUSD = val.(float64)
		case "error_message":
			t.ErrorMessage = val.(string)
		case "completed_at":
			t.CompletedAt = time.Now().UTC()
		}
	}
	s.tasks[taskID] = t
	return nil
}

func (s *fixtureStore) GetIncompleteTasks(_ context.Context) ([]research.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []research.Task
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fixtureStore) SaveResult(_ context.Context, taskID string, result research.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = result
	return nil
}

func (s *fixtureStore) GetResult(_ context.Context, taskID string) (*research.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[taskID]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("result %s not found", taskID))
	}
	cp := r
	return &cp, nil
}

func (s *fixtureStore) DeleteTask(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[taskID]
	delete(s.tasks, taskID)
	delete(s.results, taskID)
	return ok, nil
}

func (s *fixtureStore) ListTasks(_ context.Context, limit int) ([]research.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []research.Task
	for _, t := range s.tasks {
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fixtureStore) SaveEvent(_ context.Context, _ research.Event) error { return nil }

func (s *fixtureStore) GetEvents(_ context.Context, _ string) ([]research.Event, error) {
	return nil, nil
}

func (s *fixtureStore) Close() error { return nil }

// fixtureProvider always reports a completed session on first poll, so
// every start() in these tests resolves synchronously.
type fixtureProvider struct {
	mu   sync.Mutex
	next int
}

func (p *fixtureProvider) Submit(_ context.Context, _, _ string) (provider.SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return provider.SubmitResult{Handle: fmt.Sprintf("handle-%d", p.next), InitialState: provider.StateRunning}, nil
}

func (p *fixtureProvider) Poll(_ context.Context, _ string) (provider.PollResult, error) {
	return provider.PollResult{
		State:  provider.StateCompleted,
		Report: "fixture report",
		Tokens: provider.Tokens{Input: 10, Output: 20},
	}, nil
}

func newFakeEngineHarness(t *testing.T) *engine.Engine {
	t.Helper()
	st := newFixtureStore()
	prov := &fixtureProvider{}
	exec := executor.New(2, 2, nil, nil)
	cfg := engine.Config{SyncBudget: 500 * time.Millisecond, PollInterval: 5 * time.Millisecond, DefaultMaxWaitHours: 8}
	return engine.New(st, prov, exec, nil, nil, nil, cfg, nil)
}
