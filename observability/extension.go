package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/granter/ext"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

const meterName = "github.com/xraph/granter/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobEnqueued       = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.JobDLQ            = (*MetricsExtension)(nil)
	_ ext.JobsCancelled     = (*MetricsExtension)(nil)
	_ ext.Debounced         = (*MetricsExtension)(nil)
	_ ext.CronFired         = (*MetricsExtension)(nil)
	_ ext.LeadershipChanged = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters. Register it as an extension
// to track enqueue rates, outcomes, sweep cancellations and leadership.
type MetricsExtension struct {
	JobEnqueued   metric.Int64Counter
	JobCompleted  metric.Int64Counter
	JobFailed     metric.Int64Counter
	JobRetried    metric.Int64Counter
	JobDLQ        metric.Int64Counter
	JobCancelled  metric.Int64Counter
	Debounced     metric.Int64Counter
	CronFired     metric.Int64Counter
	LeaderChanges metric.Int64Counter
	Leader        metric.Int64UpDownCounter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// Instrument errors fall back to noop instruments.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	leader, _ := meter.Int64UpDownCounter("granter.cluster.leader",
		metric.WithDescription("1 while this process holds the leader lease"))

	return &MetricsExtension{
		JobEnqueued:   counter("granter.job.enqueued", "Jobs enqueued"),
		JobCompleted:  counter("granter.job.completed", "Jobs completed"),
		JobFailed:     counter("granter.job.failed", "Job executions that failed"),
		JobRetried:    counter("granter.job.retried", "Jobs scheduled for retry"),
		JobDLQ:        counter("granter.job.dlq", "Jobs moved to the dead letter queue"),
		JobCancelled:  counter("granter.job.cancelled", "Pending scheduled jobs cancelled"),
		Debounced:     counter("granter.debounce.rescheduled", "Debounced jobs rescheduled"),
		CronFired:     counter("granter.cron.fired", "Cron entries fired"),
		LeaderChanges: counter("granter.cluster.leadership_changes", "Leadership gained or lost"),
		Leader:        leader,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func byJob(name string) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_name", name))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, byJob(j.Name))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, byJob(j.Name))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, byJob(j.Name))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, byJob(j.Name))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1, byJob(j.Name))
	return nil
}

// OnJobsCancelled implements ext.JobsCancelled.
func (m *MetricsExtension) OnJobsCancelled(ctx context.Context, name string, n int64) error {
	m.JobCancelled.Add(ctx, n, byJob(name))
	return nil
}

// ── Coordination hooks ──────────────────────────────

// OnDebounced implements ext.Debounced.
func (m *MetricsExtension) OnDebounced(ctx context.Context, j *job.Job, _ int64) error {
	m.Debounced.Add(ctx, 1, byJob(j.Name))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("cron_name", entryName)))
	return nil
}

// OnLeadershipChanged implements ext.LeadershipChanged.
func (m *MetricsExtension) OnLeadershipChanged(ctx context.Context, leader bool) error {
	m.LeaderChanges.Add(ctx, 1, metric.WithAttributes(attribute.Bool("leader", leader)))
	if leader {
		m.Leader.Add(ctx, 1)
	} else {
		m.Leader.Add(ctx, -1)
	}
	return nil
}
