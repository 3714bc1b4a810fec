package job

import (
	"context"
	"time"

	"github.com/xraph/granter/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Name filters by job name. Empty means all names.
	Name string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	Queue string
	State State
	Name  string
}

// Store defines the persistence contract for jobs.
type Store interface {
	// EnqueueJob persists a new job.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit due jobs from the given
	// queues for workerID, sets them to running and returns them. A job
	// is delivered to exactly one caller.
	DequeueJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job. Moving a job back to
	// pending or retrying makes it dequeueable again at its RunAt.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// CancelScheduledJobs moves every pending scheduled job with the given
	// name to cancelled and returns how many it withdrew. Jobs already
	// claimed by a worker are never touched.
	CancelScheduledJobs(ctx context.Context, name string) (int64, error)

	// ListJobsByState returns jobs in the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob records that workerID is still executing the job.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older
	// than threshold.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// ResetStaleJob moves a job still running under workerID back to
	// retrying at runAt. It returns granter.ErrInvalidState when the job
	// has since finished or changed owner.
	ResetStaleJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, runAt time.Time) error

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
