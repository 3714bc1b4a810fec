package dlq

import (
	"time"

	"github.com/xraph/granter/id"
)

// Entry is a job that ran out of retries. A sweep that keeps failing ends
// up here with its last error.
type Entry struct {
	ID         id.DLQID   `json:"id"`
	JobID      id.JobID   `json:"job_id"`
	JobName    string     `json:"job_name"`
	Queue      string     `json:"queue"`
	Payload    []byte     `json:"payload"`
	Error      string     `json:"error"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Replayed reports whether the entry was already re-enqueued.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }
