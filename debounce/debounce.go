package debounce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/granter/job"
)

// Key names a debounced job: Lock serializes reschedules and Job is the
// kind that gets cancelled and re-enqueued. Both are usually the same
// string.
type Key struct {
	Lock string
	Job  string
}

// KeyFor returns a Key whose lock and job names are both name.
func KeyFor(name string) Key { return Key{Lock: name, Job: name} }

// Scheduler is the part of the job queue the debouncer drives.
type Scheduler interface {
	// CancelScheduled withdraws every pending scheduled job named name.
	CancelScheduled(ctx context.Context, name string) (int64, error)
	// EnqueueIn schedules a job named name to run delay from now.
	EnqueueIn(ctx context.Context, name string, payload []byte, delay time.Duration, opts ...job.Option) (*job.Job, error)
}

// Synchronizer runs fn under a named cross-process lock.
type Synchronizer interface {
	Synchronize(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Observer is told about each completed reschedule.
type Observer interface {
	EmitDebounced(ctx context.Context, j *job.Job, cancelled int64)
}

// Debouncer reschedules jobs with cancel-then-enqueue under a lock.
type Debouncer struct {
	scheduler Scheduler
	mutex     Synchronizer
	observer  Observer
	logger    *slog.Logger
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithObserver sets the reschedule observer.
func WithObserver(o Observer) Option {
	return func(d *Debouncer) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Debouncer) { d.logger = l }
}

// New creates a Debouncer.
func New(scheduler Scheduler, mutex Synchronizer, opts ...Option) *Debouncer {
	d := &Debouncer{
		scheduler: scheduler,
		mutex:     mutex,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Debounce replaces any pending run of key.Job with one due delay from
// now. It blocks until the lock on key.Lock is held and always releases it
// before returning. Lock, cancel and enqueue failures are returned.
func (d *Debouncer) Debounce(ctx context.Context, key Key, payload []byte, delay time.Duration, opts ...job.Option) error {
	var (
		scheduled *job.Job
		cancelled int64
	)

	err := d.mutex.Synchronize(ctx, key.Lock, func(ctx context.Context) error {
		n, err := d.scheduler.CancelScheduled(ctx, key.Job)
		if err != nil {
			return fmt.Errorf("debounce %q: cancel: %w", key.Job, err)
		}
		cancelled = n

		j, err := d.scheduler.EnqueueIn(ctx, key.Job, payload, delay, opts...)
		if err != nil {
			return fmt.Errorf("debounce %q: enqueue: %w", key.Job, err)
		}
		scheduled = j
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.Debug("debounced job rescheduled",
		slog.String("job_name", key.Job),
		slog.String("job_id", scheduled.ID.String()),
		slog.Time("run_at", scheduled.RunAt),
		slog.Int64("cancelled", cancelled),
	)
	if d.observer != nil {
		d.observer.EmitDebounced(ctx, scheduled, cancelled)
	}
	return nil
}
