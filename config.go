package granter

import "time"

// Config holds configuration for the Runner.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues this runner will poll.
	Queues []string

	// PollInterval is how often to poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// considered stale and returned to the queue.
	StaleJobThreshold time.Duration

	// LockTTL bounds how long a mutex lease survives a crashed holder.
	LockTTL time.Duration

	// LockAcquireTimeout caps how long Synchronize waits for a lease.
	// Zero waits until the context is done.
	LockAcquireTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"default", "low"},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleJobThreshold:  30 * time.Second,
		LockTTL:            30 * time.Second,
		LockAcquireTimeout: 1 * time.Minute,
	}
}
