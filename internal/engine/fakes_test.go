package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
	"github.com/deepresearch-mcp/orchestrator/internal/port/notifier"
	"github.com/deepresearch-mcp/orchestrator/internal/provider"
)

// memStore is an in-memory store.Store for engine tests. It has none of the
// real adapter's persistence concerns; it exists to exercise Engine's
// orchestration logic against a fast, deterministic backend.
type memStore struct {
	mu      sync.Mutex
	tasks   map[string]research.Task
	results map[string]research.Result
	events  map[string][]research.Event
}

func newMemStore() *memStore {
	return &memStore{
		tasks:   make(map[string]research.Task),
		results: make(map[string]research.Result),
		events:  make(map[string][]research.Event),
	}
}

func (m *memStore) SaveTask(_ context.Context, t research.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.TaskID] = t
	return nil
}

func (m *memStore) GetTask(_ context.Context, taskID string) (*research.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	cp := t
	return &cp, nil
}

func (m *memStore) UpdateTask(_ context.Context, taskID string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
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
			t.CompletedAt = t.CreatedAt // placeholder; exact time unused by tests
		default:
			return domain.NewError(domain.KindInvalidInput, fmt.Sprintf("unknown column %q", col))
		}
	}
	m.tasks[taskID] = t
	return nil
}

func (m *memStore) GetIncompleteTasks(_ context.Context) ([]research.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []research.Task
	for _, t := range m.tasks {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) SaveResult(_ context.Context, taskID string, result research.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[taskID] = result
	return nil
}

func (m *memStore) GetResult(_ context.Context, taskID string) (*research.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[taskID]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("result %s not found", taskID))
	}
	cp := r
	return &cp, nil
}

func (m *memStore) DeleteTask(_ context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[taskID]
	delete(m.tasks, taskID)
	delete(m.results, taskID)
	return ok, nil
}

func (m *memStore) ListTasks(_ context.Context, limit int) ([]research.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []research.Task
	for _, t := range m.tasks {
		out = append(out, t)
		if len(out) >= limit && limit > 0 {
			break
		}
	}
	return out, nil
}

func (m *memStore) SaveEvent(_ context.Context, e research.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.TaskID] = append(m.events[e.TaskID], e)
	return nil
}

func (m *memStore) GetEvents(_ context.Context, taskID string) ([]research.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]research.Event, len(m.events[taskID]))
	copy(out, m.events[taskID])
	return out, nil
}

func (m *memStore) Close() error { return nil }

// fakeProvider is a scripted provider.Client. Each handle maps to a queue of
// PollResult values returned in order; the last value repeats once exhausted.
type fakeProvider struct {
	mu          sync.Mutex
	submitErr   error
	nextHandle  int
	pollScripts map[string][]provider.PollResult
	polls       map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{pollScripts: make(map[string][]provider.PollResult), polls: make(map[string]int)}
}

func (f *fakeProvider) Submit(_ context.Context, _, _ string) (provider.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return provider.SubmitResult{}, f.submitErr
	}
	f.nextHandle++
	handle := fmt.Sprintf("handle-%d", f.nextHandle)
	return provider.SubmitResult{Handle: handle, InitialState: provider.StateRunning}, nil
}

func (f *fakeProvider) Poll(_ context.Context, handle string) (provider.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.pollScripts[handle]
	if len(script) == 0 {
		return provider.PollResult{State: provider.StateRunning}, nil
	}
	idx := f.polls[handle]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	result := script[idx]
	if f.polls[handle] < len(script)-1 {
		f.polls[handle]++
	}
	return result, nil
}

func (f *fakeProvider) script(handle string, results ...provider.PollResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollScripts[handle] = results
}

// scriptForNextHandle pre-registers a poll script for the handle that will
// be assigned to the N-th Submit call (1-indexed), letting tests script
// behavior before the task_id/handle pair is known.
func (f *fakeProvider) scriptForNextHandle(results ...provider.PollResult) {
	f.mu.Lock()
	handle := fmt.Sprintf("handle-%d", f.nextHandle+1)
	f.mu.Unlock()
	f.script(handle, results...)
}

// fakeNotifier records every notification sent to it.
type fakeNotifier struct {
	mu  sync.Mutex
	log []notifier.Notification
}

func (n *fakeNotifier) Name() string                             { return "fake" }
func (n *fakeNotifier) Capabilities() notifier.Capabilities      { return notifier.Capabilities{} }
func (n *fakeNotifier) Send(_ context.Context, note notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = append(n.log, note)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.log)
}
