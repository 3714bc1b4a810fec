package job

import (
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker has claimed the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateCancelled means a pending scheduled job was withdrawn before
	// any worker claimed it.
	StateCancelled State = "cancelled"
)

// Job represents a unit of work to be processed by a worker.
type Job struct {
	granter.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	MaxRetries  int           `json:"max_retries"`
	RetryCount  int           `json:"retry_count"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	Scheduled   bool          `json:"scheduled"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Cancellable reports whether CancelScheduledJobs may withdraw j: it was
// enqueued for the future and no worker has claimed it.
func (j *Job) Cancellable() bool {
	return j.Scheduled && j.State == StatePending
}

// Dequeueable reports whether j may be claimed at now.
func (j *Job) Dequeueable(now time.Time) bool {
	if j.State != StatePending && j.State != StateRetrying {
		return false
	}
	return j.RunAt.IsZero() || !j.RunAt.After(now)
}
