package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/granter/job"
)

const meterName = "github.com/xraph/granter"

// Metrics records per-job metrics on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter records per-job metrics on meter:
//   - granter.job.duration (s): execution time by job_name, queue, status
//   - granter.job.executions: execution count by job_name, queue, status
//   - granter.job.lateness (s): how long after RunAt execution began, by job_name
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors fall back to noop instruments.
	duration, _ := meter.Float64Histogram("granter.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("granter.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)
	lateness, _ := meter.Float64Histogram("granter.job.lateness",
		metric.WithDescription("Delay between a job's RunAt and its start in seconds"),
		metric.WithUnit("s"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		if !j.RunAt.IsZero() && start.After(j.RunAt) {
			lateness.Record(ctx, start.Sub(j.RunAt).Seconds(),
				metric.WithAttributes(attribute.String("job_name", j.Name)))
		}

		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
