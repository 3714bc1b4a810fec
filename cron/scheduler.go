package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/granter"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// The engine provides the implementation.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// Leader reports whether this process may fire entries.
// cluster.Elector satisfies it.
type Leader interface {
	IsLeader() bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock sets the time source.
func WithClock(c granter.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type registered struct {
	entry    Entry
	schedule cronlib.Schedule
}

// Scheduler fires due entries on a tick loop while Leader reports
// leadership.
type Scheduler struct {
	enqueue EnqueueFunc
	emitter Emitter
	leader  Leader
	logger  *slog.Logger
	clock   granter.Clock

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*registered

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, leader Leader, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		emitter:      emitter,
		leader:       leader,
		logger:       logger,
		clock:        granter.SystemClock{},
		tickInterval: 1 * time.Second,
		entries:      make(map[string]*registered),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers an entry and computes its first run from now.
// Re-adding a name replaces the previous entry.
func (s *Scheduler) Add(e Entry) error {
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", e.Schedule, err)
	}
	e.NextRunAt = sched.Next(s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Name] = &registered{entry: e, schedule: sched}
	return nil
}

// SetEnabled enables or disables an entry by name.
func (s *Scheduler) SetEnabled(name string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[name]
	if ok {
		r.entry.Enabled = enabled
	}
	return ok
}

// Entries returns a snapshot of the registered entries ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, r := range s.entries {
		out = append(out, r.entry)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick loop.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every enabled entry that is due, if this process leads.
// It returns the number of jobs enqueued.
func (s *Scheduler) Tick(ctx context.Context) int {
	if s.leader != nil && !s.leader.IsLeader() {
		return 0
	}
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*registered, 0)
	for _, r := range s.entries {
		if r.entry.Enabled && !r.entry.NextRunAt.After(now) {
			due = append(due, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, k int) bool { return due[i].entry.Name < due[k].entry.Name })

	fired := 0
	for _, r := range due {
		if s.fire(ctx, r, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, r *registered, now time.Time) bool {
	s.mu.Lock()
	e := r.entry
	s.mu.Unlock()

	var enqOpts []job.Option
	if e.Queue != "" {
		enqOpts = append(enqOpts, job.WithQueue(e.Queue))
	}
	jobID, err := s.enqueue(ctx, e.JobName, e.Payload, enqOpts...)
	if err != nil {
		// NextRunAt is left alone so the next tick retries.
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", e.Name),
			slog.String("job_name", e.JobName),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.mu.Lock()
	last := now
	r.entry.LastRunAt = &last
	r.entry.NextRunAt = r.schedule.Next(now)
	next := r.entry.NextRunAt
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.Name, jobID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_name", e.JobName),
		slog.String("job_id", jobID.String()),
		slog.Time("next_run_at", next),
	)
	return true
}
