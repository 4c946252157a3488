// Package hangdetect tracks per-task provider progress history and flags
// tasks whose provider-reported status has stopped changing, suggestive of
// a stuck remote research session.
//
// This is a diagnostic supplement: it never cancels a task on its own, it
// only informs the `status` tool's estimated-completion field.
package hangdetect

import (
	"sync"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

const maxHistoryPerTask = 100

// Thresholds, in minutes, matching the observed 5-40 minute typical
// duration of a deep research run.
const (
	DefaultStallThresholdMinutes = 15.0
	DefaultExpectedMaxMinutes    = 25.0
	DefaultConcernMinutes        = 30.0
	DefaultExcessiveMinutes      = 60.0
)

// Detector holds a bounded progress-snapshot history per task and classifies
// tasks as possibly hanging. Safe for concurrent use.
type Detector struct {
	mu      sync.Mutex
	history map[string][]research.ProgressSnapshot

	stallThreshold float64
	expectedMax    float64
	concern        float64
	excessive      float64

	now func() time.Time
}

// New builds a Detector with the default thresholds.
func New() *Detector {
	return &Detector{
		history:        make(map[string][]research.ProgressSnapshot),
		stallThreshold: DefaultStallThresholdMinutes,
		expectedMax:    DefaultExpectedMaxMinutes,
		concern:        DefaultConcernMinutes,
		excessive:      DefaultExcessiveMinutes,
		now:            time.Now,
	}
}

// RecordProgress appends a snapshot to the task's history, trimming to the
// most recent maxHistoryPerTask entries.
func (d *Detector) RecordProgress(taskID string, progress int, action, apiStatus string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := research.ProgressSnapshot{
		Timestamp: d.now(),
		Progress:  progress,
		Action:    action,
		APIStatus: apiStatus,
	}
	h := append(d.history[taskID], snap)
	if len(h) > maxHistoryPerTask {
		h = h[len(h)-maxHistoryPerTask:]
	}
	d.history[taskID] = h
}

// History returns a copy of a task's recorded snapshots.
func (d *Detector) History(taskID string) []research.ProgressSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.history[taskID]
	out := make([]research.ProgressSnapshot, len(h))
	copy(out, h)
	return out
}

// ClearHistory drops a task's history, called once it reaches a terminal
// status and the executor's unit for it is dropped.
func (d *Detector) ClearHistory(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, taskID)
}

// LoadHistory appends persisted snapshots to a task's history, trimming to
// the most recent maxHistoryPerTask entries, and returns how many snapshots
// it was given. The engine's startup recovery does not call it, so a
// recovered task starts with an empty history.
func (d *Detector) LoadHistory(taskID string, snapshots []research.ProgressSnapshot) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := append(d.history[taskID], snapshots...)
	if len(h) > maxHistoryPerTask {
		h = h[len(h)-maxHistoryPerTask:]
	}
	d.history[taskID] = h
	return len(snapshots)
}

// Analyze inspects a task's history and classifies it, in priority order:
// excessive total duration, stalled API status (the primary signal since
// progress may be synthetic), concerning slow progress, and stuck-near-
// completion. createdAt, if non-zero, anchors elapsed time; otherwise the
// first snapshot's timestamp is used.
func (d *Detector) Analyze(taskID string, createdAt time.Time) research.HangingStatus {
	d.mu.Lock()
	history := append([]research.ProgressSnapshot(nil), d.history[taskID]...)
	d.mu.Unlock()

	now := d.now()

	var elapsed float64
	switch {
	case !createdAt.IsZero():
		elapsed = now.Sub(createdAt).Minutes()
	case len(history) > 0:
		elapsed = now.Sub(history[0].Timestamp).Minutes()
	}

	if len(history) < 2 {
		last := 0
		if len(history) == 1 {
			last = history[0].Progress
		}
		return research.HangingStatus{
			IsHanging:      false,
			Reason:         "insufficient progress data",
			Confidence:     0.0,
			ElapsedMinutes: elapsed,
			LastProgress:   last,
			Recommendation: "continue monitoring",
		}
	}

	last := history[len(history)-1]
	statusStall := statusStallMinutes(history)
	progressStall := progressStallMinutes(history)
	_ = progressStall // retained for parity with the source's deprecated field, surfaced via StatusStallMinutes only

	if elapsed > d.excessive {
		return research.HangingStatus{
			IsHanging:          true,
			Reason:             "excessive duration, expected 5-40 minutes",
			Confidence:         0.95,
			ElapsedMinutes:     elapsed,
			LastProgress:       last.Progress,
			StatusStallMinutes: statusStall,
			Recommendation:     "cancel task - almost certainly hung or crashed",
		}
	}

	if statusStall > d.stallThreshold {
		confidence := 0.5 + (statusStall/d.excessive)*0.4
		if confidence > 0.9 {
			confidence = 0.9
		}
		return research.HangingStatus{
			IsHanging:          true,
			Reason:             "provider status unchanged beyond stall threshold",
			Confidence:         confidence,
			ElapsedMinutes:     elapsed,
			LastProgress:       last.Progress,
			StatusStallMinutes: statusStall,
			Recommendation:     "consider cancelling - no provider status change detected",
		}
	}

	if elapsed > d.concern && last.Progress < 50 {
		return research.HangingStatus{
			IsHanging:          false,
			Reason:             "slow progress relative to elapsed time",
			Confidence:         0.4,
			ElapsedMinutes:     elapsed,
			LastProgress:       last.Progress,
			StatusStallMinutes: statusStall,
			Recommendation:     "monitor closely - slower than expected",
		}
	}

	if last.Progress >= 90 && statusStall > 10 {
		return research.HangingStatus{
			IsHanging:          true,
			Reason:             "stuck near completion, finalization appears hung",
			Confidence:         0.8,
			ElapsedMinutes:     elapsed,
			LastProgress:       last.Progress,
			StatusStallMinutes: statusStall,
			Recommendation:     "cancel task - finalization appears hung",
		}
	}

	return research.HangingStatus{
		IsHanging:          false,
		Reason:             "task progressing normally",
		Confidence:         0.1,
		ElapsedMinutes:     elapsed,
		LastProgress:       last.Progress,
		StatusStallMinutes: statusStall,
		Recommendation:     "continue - within expected parameters",
	}
}

// statusStallMinutes is the primary stall signal: minutes since the
// provider's reported api_status last changed. Falls back to progress
// stall when no api_status was ever recorded.
func statusStallMinutes(history []research.ProgressSnapshot) float64 {
	if len(history) < 2 {
		return 0
	}
	current := history[len(history)-1]
	if current.APIStatus == "" {
		return progressStallMinutes(history)
	}
	lastChange := current.Timestamp
	for i := len(history) - 2; i >= 0; i-- {
		snap := history[i]
		if snap.APIStatus != "" && snap.APIStatus != current.APIStatus {
			break
		}
		lastChange = snap.Timestamp
	}
	return current.Timestamp.Sub(lastChange).Minutes()
}

// progressStallMinutes is the deprecated fallback signal: minutes since
// the displayed progress value last changed. Less reliable since progress
// may be a synthetic estimate rather than provider-reported.
func progressStallMinutes(history []research.ProgressSnapshot) float64 {
	if len(history) < 2 {
		return 0
	}
	current := history[len(history)-1]
	lastChange := current.Timestamp
	for i := len(history) - 2; i >= 0; i-- {
		snap := history[i]
		if snap.Progress != current.Progress {
			break
		}
		lastChange = snap.Timestamp
	}
	return current.Timestamp.Sub(lastChange).Minutes()
}

// ProgressRate returns percentage points per minute between the first and
// last recorded snapshot, or nil if there isn't enough data to compute one.
func (d *Detector) ProgressRate(taskID string) *float64 {
	d.mu.Lock()
	history := append([]research.ProgressSnapshot(nil), d.history[taskID]...)
	d.mu.Unlock()

	if len(history) < 2 {
		return nil
	}
	first, last := history[0], history[len(history)-1]
	deltaMinutes := last.Timestamp.Sub(first.Timestamp).Minutes()
	if deltaMinutes <= 0 {
		return nil
	}
	rate := float64(last.Progress-first.Progress) / deltaMinutes
	return &rate
}

// EstimateRemainingMinutes extrapolates from the task's progress rate how
// many minutes remain until 100%, or nil if the rate is non-positive or
// unknown.
func (d *Detector) EstimateRemainingMinutes(taskID string) *float64 {
	rate := d.ProgressRate(taskID)
	if rate == nil || *rate <= 0 {
		return nil
	}
	d.mu.Lock()
	history := d.history[taskID]
	var lastProgress int
	if len(history) > 0 {
		lastProgress = history[len(history)-1].Progress
	}
	d.mu.Unlock()

	remaining := float64(100-lastProgress) / *rate
	return &remaining
}
