package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitRunsUnitToCompletion(t *testing.T) {
	var mu sync.Mutex
	var completedID string
	var completedErr error
	done := make(chan struct{})

	e := New(2, 4, func(taskID string, err error) {
		mu.Lock()
		completedID, completedErr = taskID, err
		mu.Unlock()
		close(done)
	}, nil)

	err := e.Submit(context.Background(), "task-1", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "task-1", completedID)
	assert.NoError(t, completedErr)
}

func TestSubmitPropagatesUnitError(t *testing.T) {
	done := make(chan error, 1)
	e := New(2, 4, func(taskID string, err error) { done <- err }, nil)

	wantErr := errors.New("boom")
	_ = e.Submit(context.Background(), "task-2", func(ctx context.Context) error {
		return wantErr
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, wantErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestCancelStopsRunningUnit(t *testing.T) {
	started := make(chan struct{})
	done := make(chan error, 1)

	e := New(1, 4, func(taskID string, err error) { done <- err }, nil)

	_ = e.Submit(context.Background(), "task-3", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	require.True(t, e.Cancel("task-3"), "expected Cancel to find a running unit")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestSubmitReplacesExistingRunForSameKey(t *testing.T) {
	firstStarted := make(chan struct{})
	firstDone := make(chan error, 1)
	secondDone := make(chan error, 1)

	var callCount int
	var mu sync.Mutex

	e := New(2, 4, func(taskID string, err error) {
		mu.Lock()
		callCount++
		n := callCount
		mu.Unlock()
		if n == 1 {
			firstDone <- err
		} else {
			secondDone <- err
		}
	}, nil)

	_ = e.Submit(context.Background(), "task-4", func(ctx context.Context) error {
		close(firstStarted)
		<-ctx.Done()
		return ctx.Err()
	})
	<-firstStarted

	_ = e.Submit(context.Background(), "task-4", func(ctx context.Context) error {
		return nil
	})

	select {
	case err := <-firstDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first run to be cancelled")
	}

	select {
	case err := <-secondDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second run")
	}
}

func TestSubmitRejectsWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	e := New(1, 0, nil, nil)

	err := e.Submit(context.Background(), "task-5", func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	err = e.Submit(context.Background(), "task-6", func(ctx context.Context) error {
		return nil
	})
	assert.Equal(t, domain.KindCapacityExceeded, domain.KindOf(err))

	close(block)
}

func TestIsRunningAndRunningIDs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	e := New(2, 4, nil, nil)

	_ = e.Submit(context.Background(), "task-7", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	assert.True(t, e.IsRunning("task-7"))
	assert.Equal(t, []string{"task-7"}, e.RunningIDs())

	close(release)
	for i := 0; i < 100 && e.IsRunning("task-7"); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, e.IsRunning("task-7"), "expected task-7 to have cleaned up")
	assert.Empty(t, e.RunningIDs())
}

func TestCancelUnknownTaskReturnsFalse(t *testing.T) {
	e := New(1, 1, nil, nil)
	assert.False(t, e.Cancel("ghost"))
}
