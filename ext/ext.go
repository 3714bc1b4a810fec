// Package ext defines the extension system. Extensions are notified of
// lifecycle events (job enqueued, completed, cancelled, debounced and so
// on) and react to them with logging, metrics or auditing.
//
// Each hook is a separate interface so an extension opts in only to the
// events it cares about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but will run again.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// JobsCancelled is called after pending scheduled jobs of one kind were
// withdrawn. It fires only when n > 0.
type JobsCancelled interface {
	OnJobsCancelled(ctx context.Context, name string, n int64) error
}

// Debounced is called after a debounced job was rescheduled. cancelled is
// how many pending entries the new one replaced.
type Debounced interface {
	OnDebounced(ctx context.Context, j *job.Job, cancelled int64) error
}

// CronFired is called when a cron entry fires and enqueues a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// LeadershipChanged is called when this process gains or loses the
// cluster leader lease.
type LeadershipChanged interface {
	OnLeadershipChanged(ctx context.Context, leader bool) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
