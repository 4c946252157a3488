// Package telemetry wires OpenTelemetry tracing and metrics for the
// orchestrator: task lifecycle counters, background-unit gauges, poll
// latency, and StateStore retry counts.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "deepresearch"

// Metrics holds all orchestrator metric instruments.
type Metrics struct {
	TasksStarted    metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	TasksCancelled  metric.Int64Counter
	UnitsRunning    metric.Int64UpDownCounter
	PollLatency     metric.Float64Histogram
	StoreRetries    metric.Int64Counter
}

// NewMetrics creates all metric instruments against the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.TasksStarted, err = meter.Int64Counter("deepresearch.tasks.started",
		metric.WithDescription("Number of research tasks started")); err != nil {
		return nil, err
	}
	if m.TasksCompleted, err = meter.Int64Counter("deepresearch.tasks.completed",
		metric.WithDescription("Number of research tasks completed")); err != nil {
		return nil, err
	}
	if m.TasksFailed, err = meter.Int64Counter("deepresearch.tasks.failed",
		metric.WithDescription("Number of research tasks failed")); err != nil {
		return nil, err
	}
	if m.TasksCancelled, err = meter.Int64Counter("deepresearch.tasks.cancelled",
		metric.WithDescription("Number of research tasks cancelled")); err != nil {
		return nil, err
	}
	if m.UnitsRunning, err = meter.Int64UpDownCounter("deepresearch.executor.units_running",
		metric.WithDescription("Number of background polling units currently running")); err != nil {
		return nil, err
	}
	if m.PollLatency, err = meter.Float64Histogram("deepresearch.provider.poll_latency_seconds",
		metric.WithDescription("Latency of provider poll calls in seconds")); err != nil {
		return nil, err
	}
	if m.StoreRetries, err = meter.Int64Counter("deepresearch.store.retries",
		metric.WithDescription("Number of StateStore write retries due to transient contention")); err != nil {
		return nil, err
	}

	return m, nil
}
