package job

import "time"

// Options configures per-job behavior such as retries, queue and delay.
type Options struct {
	// MaxRetries is the number of retries before the job goes to the DLQ.
	MaxRetries int

	// Queue is the queue name this job is enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values go first.
	Priority int

	// Timeout is the maximum duration a single execution may take.
	Timeout time.Duration

	// RunAt schedules the job for an absolute time. Zero means immediate.
	RunAt time.Time

	// Delay schedules the job relative to enqueue time. It wins over RunAt.
	Delay time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Queue:      "default",
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithPriority sets the job priority.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt schedules the job for a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithDelay schedules the job d after it is enqueued.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// Apply returns DefaultOptions with base then extra applied in order.
func Apply(base []Option, extra ...Option) Options {
	o := DefaultOptions()
	for _, opt := range base {
		opt(&o)
	}
	for _, opt := range extra {
		opt(&o)
	}
	return o
}
