package cron

// Definition is a typed cron definition. T is the payload type and must be
// JSON-serializable.
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "0 3 * * *" or "@daily").
	Schedule string

	// JobName is the job enqueued on each tick.
	JobName string

	// Payload is enqueued with every job.
	Payload T

	// Queue overrides the job's default queue.
	Queue string
}
