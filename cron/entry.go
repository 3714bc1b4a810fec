package cron

import "time"

// Entry is a registered recurring job.
type Entry struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	JobName   string     `json:"job_name"`
	Queue     string     `json:"queue,omitempty"`
	Payload   []byte     `json:"payload,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
	Enabled   bool       `json:"enabled"`
}
