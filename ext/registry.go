package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Hook implementations are resolved once at registration time.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	extensions []Extension

	jobEnqueued       []entry[JobEnqueued]
	jobStarted        []entry[JobStarted]
	jobCompleted      []entry[JobCompleted]
	jobFailed         []entry[JobFailed]
	jobRetrying       []entry[JobRetrying]
	jobDLQ            []entry[JobDLQ]
	jobsCancelled     []entry[JobsCancelled]
	debounced         []entry[Debounced]
	cronFired         []entry[CronFired]
	leadershipChanged []entry[LeadershipChanged]
	shutdown          []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

func add[H any](list *[]entry[H], name string, e Extension) {
	if h, ok := e.(H); ok {
		*list = append(*list, entry[H]{name: name, hook: h})
	}
}

// Register adds an extension. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	name := e.Name()

	add(&r.jobEnqueued, name, e)
	add(&r.jobStarted, name, e)
	add(&r.jobCompleted, name, e)
	add(&r.jobFailed, name, e)
	add(&r.jobRetrying, name, e)
	add(&r.jobDLQ, name, e)
	add(&r.jobsCancelled, name, e)
	add(&r.debounced, name, e)
	add(&r.cronFired, name, e)
	add(&r.leadershipChanged, name, e)
	add(&r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

func emit[H any](r *Registry, list *[]entry[H], hook string, call func(H) error) {
	r.mu.RLock()
	entries := *list
	r.mu.RUnlock()

	for _, e := range entries {
		if err := call(e.hook); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", hook),
				slog.String("extension", e.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// EmitJobEnqueued notifies JobEnqueued extensions.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	emit(r, &r.jobEnqueued, "OnJobEnqueued", func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, j) })
}

// EmitJobStarted notifies JobStarted extensions.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, &r.jobStarted, "OnJobStarted", func(h JobStarted) error { return h.OnJobStarted(ctx, j) })
}

// EmitJobCompleted notifies JobCompleted extensions.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, &r.jobCompleted, "OnJobCompleted", func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

// EmitJobFailed notifies JobFailed extensions.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	emit(r, &r.jobFailed, "OnJobFailed", func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

// EmitJobRetrying notifies JobRetrying extensions.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	emit(r, &r.jobRetrying, "OnJobRetrying", func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, attempt, nextRunAt) })
}

// EmitJobDLQ notifies JobDLQ extensions.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	emit(r, &r.jobDLQ, "OnJobDLQ", func(h JobDLQ) error { return h.OnJobDLQ(ctx, j, jobErr) })
}

// EmitJobsCancelled notifies JobsCancelled extensions. Nothing is emitted
// for n == 0.
func (r *Registry) EmitJobsCancelled(ctx context.Context, name string, n int64) {
	if n == 0 {
		return
	}
	emit(r, &r.jobsCancelled, "OnJobsCancelled", func(h JobsCancelled) error { return h.OnJobsCancelled(ctx, name, n) })
}

// EmitDebounced notifies Debounced extensions.
func (r *Registry) EmitDebounced(ctx context.Context, j *job.Job, cancelled int64) {
	emit(r, &r.debounced, "OnDebounced", func(h Debounced) error { return h.OnDebounced(ctx, j, cancelled) })
}

// EmitCronFired notifies CronFired extensions.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, jobID id.JobID) {
	emit(r, &r.cronFired, "OnCronFired", func(h CronFired) error { return h.OnCronFired(ctx, entryName, jobID) })
}

// EmitLeadershipChanged notifies LeadershipChanged extensions.
func (r *Registry) EmitLeadershipChanged(ctx context.Context, leader bool) {
	emit(r, &r.leadershipChanged, "OnLeadershipChanged", func(h LeadershipChanged) error { return h.OnLeadershipChanged(ctx, leader) })
}

// EmitShutdown notifies Shutdown extensions.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, &r.shutdown, "OnShutdown", func(h Shutdown) error { return h.OnShutdown(ctx) })
}
