package granter

import (
	"context"
	"log/slog"
)

// Option configures a Runner.
type Option func(*Runner) error

// Storer is the minimal store interface held by the Runner. It covers
// lifecycle operations only; subsystem layers type-assert the concrete
// store to job.Store, dlq.Store and lock.Locker.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Runner owns configuration, logging, the clock and the store, and drives
// the worker pool once the engine package has wired it.
type Runner struct {
	config     Config
	logger     *slog.Logger
	clock      Clock
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Runner with the given options.
func New(opts ...Option) (*Runner, error) {
	r := &Runner{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Logger returns the runner's logger.
func (r *Runner) Logger() *slog.Logger { return r.logger }

// Clock returns the runner's time source.
func (r *Runner) Clock() Clock { return r.clock }

// Store returns the runner's store.
func (r *Runner) Store() Storer { return r.store }

// Config returns a copy of the runner's configuration.
func (r *Runner) Config() Config { return r.config }

// SetPool sets the worker pool (called by the engine package).
func (r *Runner) SetPool(p poolRunner) { r.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (r *Runner) SetExtensions(e extensionEmitter) { r.extensions = e }

// Start begins job processing.
func (r *Runner) Start(ctx context.Context) error {
	if r.pool == nil {
		return ErrNoStore
	}
	if err := r.pool.Start(ctx); err != nil {
		return err
	}
	r.started = true
	return nil
}

// Stop gracefully shuts down the runner and closes the store.
func (r *Runner) Stop(ctx context.Context) error {
	if r.pool != nil && r.started {
		if err := r.pool.Stop(ctx); err != nil {
			r.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		r.started = false
	}
	if r.extensions != nil {
		r.extensions.EmitShutdown(ctx)
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(r *Runner) error {
		r.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the runner will poll.
func WithQueues(queues []string) Option {
	return func(r *Runner) error {
		r.config.Queues = queues
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runner) error {
		r.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the runner.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) error {
		r.logger = l
		return nil
	}
}

// WithClock overrides the time source used for delayed scheduling.
func WithClock(c Clock) Option {
	return func(r *Runner) error {
		r.clock = c
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; the engine additionally requires job.Store, dlq.Store and
// lock.Locker.
func WithStore(s Storer) Option {
	return func(r *Runner) error {
		r.store = s
		return nil
	}
}
