package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/granter/job"
)

const tracerName = "github.com/xraph/granter"

// Tracing wraps execution in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps execution in a span from tracer. Span
// attributes: granter.job.id, granter.job.name, granter.queue,
// granter.retry_count and granter.job.scheduled.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "granter.job.execute",
			trace.WithAttributes(
				attribute.String("granter.job.id", j.ID.String()),
				attribute.String("granter.job.name", j.Name),
				attribute.String("granter.queue", j.Queue),
				attribute.Int("granter.retry_count", j.RetryCount),
				attribute.Bool("granter.job.scheduled", j.Scheduled),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
