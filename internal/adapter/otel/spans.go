package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chimera"

// StartTaskSpan starts a span for one task execution attempt.
func StartTaskSpan(ctx context.Context, taskID, taskType, campaignID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
			attribute.String("campaign.id", campaignID),
		),
	)
}

// StartValidateSpan starts a span for result validation.
func StartValidateSpan(ctx context.Context, taskID string, confidence float64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "result.validate",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Float64("result.confidence", confidence),
		),
	)
}

// StartDecomposeSpan starts a span for campaign decomposition.
func StartDecomposeSpan(ctx context.Context, campaignID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "campaign.decompose",
		trace.WithAttributes(
			attribute.String("campaign.id", campaignID),
		),
	)
}
