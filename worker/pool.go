package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/ext"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/queue"
)

// QueueManager gates job starts per queue. The pool reserves a permit on
// every queue before it claims, so a claimed job always starts.
type QueueManager interface {
	Reserve(queue string) (*queue.Permit, bool)
}

// Pool runs a fixed number of goroutines that claim and execute jobs.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	clock        granter.Clock
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	queueManager QueueManager

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool polls.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle worker sleeps between polls.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often running jobs are heartbeated.
// Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how old a heartbeat may get before the job is
// returned to pending. Zero disables reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithQueueManager sets per-queue admission control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithPoolClock sets the time source used when resetting stale jobs.
func WithPoolClock(c granter.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, extensions *ext.Registry, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		clock:        granter.SystemClock{},
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines and returns immediately. Jobs run
// on a context detached from ctx's cancellation; Stop ends them.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.every(p.heartbeatInterval, p.sendHeartbeats)
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.every(p.staleJobThreshold, p.reapStaleJobs)
	}
	return nil
}

// Stop signals the workers and waits for in-flight jobs. When ctx expires
// first, in-flight jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	p.cancel()
	return nil
}

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		queues, permits := p.admit()
		if permits != nil && len(queues) == 0 {
			p.sleep()
			continue
		}

		jobs, err := p.store.DequeueJobs(p.ctx, queues, p.workerID, 1)
		if err != nil {
			cancelPermits(permits, "")
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			cancelPermits(permits, "")
			p.sleep()
			continue
		}

		j := jobs[0]
		cancelPermits(permits, j.Queue)
		p.run(j)
		if pm := permits[j.Queue]; pm != nil {
			pm.Release()
		}
	}
}

// admit returns the queues this worker may claim from right now. Without a
// queue manager every configured queue is admitted.
func (p *Pool) admit() ([]string, map[string]*queue.Permit) {
	if p.queueManager == nil {
		return p.queues, nil
	}
	queues := make([]string, 0, len(p.queues))
	permits := make(map[string]*queue.Permit, len(p.queues))
	for _, q := range p.queues {
		if _, dup := permits[q]; dup {
			continue
		}
		pm, ok := p.queueManager.Reserve(q)
		if !ok {
			continue
		}
		permits[q] = pm
		queues = append(queues, q)
	}
	return queues, permits
}

// cancelPermits hands back every permit except the one for keep.
func cancelPermits(permits map[string]*queue.Permit, keep string) {
	for q, pm := range permits {
		if q != keep {
			pm.Cancel()
		}
	}
}

func (p *Pool) run(j *job.Job) {
	p.extensions.EmitJobStarted(p.ctx, j)

	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	key := j.ID.String()
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", key),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}

	p.activeMu.Lock()
	delete(p.active, key)
	p.activeMu.Unlock()
}

func (p *Pool) every(interval time.Duration, fn func()) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	keys := make([]string, 0, len(p.active))
	for k := range p.active {
		keys = append(keys, k)
	}
	p.activeMu.Unlock()

	for _, k := range keys {
		jobID, err := id.ParseJobID(k)
		if err != nil {
			continue
		}
		if err := p.store.HeartbeatJob(p.ctx, jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", k),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reapStaleJobs returns jobs whose owner stopped heartbeating to retrying.
// The reset only lands while the job is still running under that owner, so
// a job that finished in the meantime is left alone. A reaped job never
// comes back as a cancellable pending entry.
func (p *Pool) reapStaleJobs() {
	stale, err := p.store.ReapStaleJobs(p.ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		resetErr := p.store.ResetStaleJob(p.ctx, j.ID, j.WorkerID, p.clock.Now())
		switch {
		case errors.Is(resetErr, granter.ErrInvalidState), errors.Is(resetErr, granter.ErrJobNotFound):
			continue
		case resetErr != nil:
			p.logger.Error("reap: failed to reset stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", resetErr.Error()),
			)
			continue
		}
		p.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("worker_id", j.WorkerID.String()),
		)
	}
}

func (p *Pool) sleep() {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for k, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", k))
		cancel()
	}
}
