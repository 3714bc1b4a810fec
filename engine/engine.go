package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/granter"
	"github.com/xraph/granter/backoff"
	"github.com/xraph/granter/cluster"
	"github.com/xraph/granter/cron"
	"github.com/xraph/granter/debounce"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/ext"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/lock"
	mw "github.com/xraph/granter/middleware"
	"github.com/xraph/granter/observability"
	"github.com/xraph/granter/queue"
	"github.com/xraph/granter/worker"
)

const instrumentationName = "github.com/xraph/granter"

// Engine wraps a Runner with typed subsystem access.
// Use Build() to create one from a Runner.
type Engine struct {
	r          *granter.Runner
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	locker     lock.Locker
	dlqService *dlq.Service
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger
	clock      granter.Clock

	mutex     *lock.Mutex
	debouncer *debounce.Debouncer

	elector      *cluster.Elector
	scheduler    *cron.Scheduler
	leaderTTL    time.Duration
	cronInterval time.Duration

	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers; nil means the global ones.
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. The default is
// backoff.DefaultStrategy().
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers per-queue rate limits and concurrency caps.
// Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets the TracerProvider for the tracing middleware.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets the MeterProvider for the metrics middleware and
// the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithLeaderTTL sets the cluster leader lease TTL.
func WithLeaderTTL(d time.Duration) Option {
	return func(eng *Engine) {
		eng.leaderTTL = d
	}
}

// WithCronTickInterval sets how often due cron entries are checked.
func WithCronTickInterval(d time.Duration) Option {
	return func(eng *Engine) {
		eng.cronInterval = d
	}
}

// Build creates an Engine from a Runner. The Runner's store must implement
// job.Store, dlq.Store and lock.Locker.
func Build(r *granter.Runner, opts ...Option) (*Engine, error) {
	logger := r.Logger()
	store := r.Store()
	if store == nil {
		return nil, granter.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("granter: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("granter: store does not implement dlq.Store")
	}
	locker, ok := store.(lock.Locker)
	if !ok {
		return nil, fmt.Errorf("granter: store does not implement lock.Locker")
	}

	eng := &Engine{
		r:            r,
		extensions:   ext.NewRegistry(logger),
		registry:     job.NewRegistry(),
		jobStore:     js,
		locker:       locker,
		logger:       logger,
		clock:        r.Clock(),
		leaderTTL:    15 * time.Second,
		cronInterval: time.Second,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	config := r.Config()
	eng.dlqService = dlq.NewService(ds, js, eng.clock)

	eng.mutex = lock.NewMutex(locker,
		lock.WithTTL(config.LockTTL),
		lock.WithAcquireTimeout(config.LockAcquireTimeout),
		lock.WithLogger(logger),
		lock.WithClock(eng.clock),
	)
	eng.debouncer = debounce.New(eng, eng.mutex,
		debounce.WithObserver(eng.extensions),
		debounce.WithLogger(logger),
	)

	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metricsMw := mw.Metrics()
	obsExt := observability.NewMetricsExtension()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → timeout → user middleware.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, js, eng.dlqService, eng.bo, eng.clock, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
		worker.WithPoolClock(eng.clock),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(js, executor, eng.extensions, logger, poolOpts...)

	eng.elector = cluster.NewElector(locker, eng.pool.WorkerID(),
		cluster.WithLeaderTTL(eng.leaderTTL),
		cluster.WithEmitter(eng.extensions),
		cluster.WithLogger(logger),
	)
	enqueueFunc := func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, name, payload, opts...)
		if err != nil {
			return id.Nil, err
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(enqueueFunc, eng.elector, eng.extensions, logger,
		cron.WithTickInterval(eng.cronInterval),
		cron.WithClock(eng.clock),
	)

	r.SetPool(eng.pool)
	r.SetExtensions(eng.extensions)
	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals payload and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueIn marshals payload and schedules a job delay from now. The job
// can be withdrawn with CancelScheduled until a worker claims it.
func EnqueueIn[T any](ctx context.Context, eng *Engine, name string, payload T, delay time.Duration, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EnqueueIn(ctx, name, data, delay, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. Options
// registered with the job's definition apply first, then opts. A Delay or
// RunAt option makes the job scheduled.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	return eng.enqueue(ctx, name, payload, false, opts)
}

// EnqueueIn schedules a job with a pre-serialized payload to run delay
// from now.
func (eng *Engine) EnqueueIn(ctx context.Context, name string, payload []byte, delay time.Duration, opts ...job.Option) (*job.Job, error) {
	opts = append(opts, job.WithDelay(delay))
	return eng.enqueue(ctx, name, payload, true, opts)
}

func (eng *Engine) enqueue(ctx context.Context, name string, payload []byte, scheduled bool, opts []job.Option) (*job.Job, error) {
	o := job.Apply(eng.registry.Defaults(name), opts...)

	now := eng.clock.Now()
	runAt := now
	switch {
	case o.Delay > 0:
		runAt = now.Add(o.Delay)
		scheduled = true
	case !o.RunAt.IsZero():
		runAt = o.RunAt
		scheduled = true
	}

	j := &job.Job{
		Entity:     granter.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      o.Queue,
		Payload:    payload,
		State:      job.StatePending,
		Priority:   o.Priority,
		MaxRetries: o.MaxRetries,
		RunAt:      runAt,
		Scheduled:  scheduled,
		Timeout:    o.Timeout,
	}
	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue job %q: %w", name, err)
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// CancelScheduled withdraws every pending scheduled job named name and
// returns how many it cancelled. Running jobs are not affected.
func (eng *Engine) CancelScheduled(ctx context.Context, name string) (int64, error) {
	n, err := eng.jobStore.CancelScheduledJobs(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("cancel scheduled %q: %w", name, err)
	}
	if n > 0 {
		eng.logger.Debug("scheduled jobs cancelled",
			slog.String("job_name", name),
			slog.Int64("count", n),
		)
	}
	eng.extensions.EmitJobsCancelled(ctx, name, n)
	return n, nil
}

// Start begins leader election, the cron scheduler and job processing.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.elector.Start(ctx); err != nil {
		return fmt.Errorf("start leader election: %w", err)
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return eng.r.Start(ctx)
}

// Stop gracefully shuts down the engine and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	if err := eng.elector.Stop(ctx); err != nil {
		eng.logger.Warn("leader lease release error", slog.String("error", err.Error()))
	}
	return eng.r.Stop(ctx)
}

// RegisterCron registers a typed cron definition. Re-registering a name
// replaces the previous entry.
func RegisterCron[T any](eng *Engine, def *cron.Definition[T]) error {
	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}
	entry := cron.Entry{
		Name:     def.Name,
		Schedule: def.Schedule,
		JobName:  def.JobName,
		Queue:    def.Queue,
		Payload:  payload,
		Enabled:  true,
	}
	if err := eng.scheduler.Add(entry); err != nil {
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}
	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_name", def.JobName),
	)
	return nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Runner returns the underlying Runner.
func (eng *Engine) Runner() *granter.Runner { return eng.r }

// JobStore returns the job store.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// DLQService returns the DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Mutex returns the distributed mutex.
func (eng *Engine) Mutex() *lock.Mutex { return eng.mutex }

// Debouncer returns the debouncer bound to this engine's queue and mutex.
func (eng *Engine) Debouncer() *debounce.Debouncer { return eng.debouncer }

// Elector returns the leader elector.
func (eng *Engine) Elector() *cluster.Elector { return eng.elector }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
