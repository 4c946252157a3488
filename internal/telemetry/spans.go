package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "deepresearch"

// StartTaskSpan starts a span covering a task's full lifecycle, from start
// through terminal transition.
func StartTaskSpan(ctx context.Context, taskID, query string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "research_task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("task.query_len", len(query)),
		),
	)
}

// StartPollSpan starts a span for a single provider poll call.
func StartPollSpan(ctx context.Context, taskID, handle string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provider_poll",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("provider.handle", handle),
		),
	)
}

// StartSubmitSpan starts a span for the initial provider submission.
func StartSubmitSpan(ctx context.Context, taskID, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provider_submit",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("provider.model", model),
		),
	)
}
