package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/backoff"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/ext"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/middleware"
	"github.com/xraph/granter/queue"
	"github.com/xraph/granter/store/memory"
	"github.com/xraph/granter/worker"
)

type fixture struct {
	store    *memory.Store
	registry *job.Registry
	exts     *ext.Registry
	executor *worker.Executor
	clock    granter.Clock
}

func newFixture(t *testing.T, clock granter.Clock) *fixture {
	t.Helper()
	logger := slog.Default()
	s := memory.New(memory.WithClock(clock))
	reg := job.NewRegistry()
	exts := ext.NewRegistry(logger)
	executor := worker.NewExecutor(
		reg, exts, s, dlq.NewService(s, s, clock),
		backoff.NewConstant(10*time.Millisecond), clock, logger,
		middleware.Recover(logger),
	)
	return &fixture{store: s, registry: reg, exts: exts, executor: executor, clock: clock}
}

func (f *fixture) pool(opts ...worker.PoolOption) *worker.Pool {
	base := []worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
		worker.WithPoolClock(f.clock),
	}
	return worker.NewPool(f.store, f.executor, f.exts, slog.Default(), append(base, opts...)...)
}

func (f *fixture) enqueue(t *testing.T, name string, maxRetries int, runAt time.Time) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:     granter.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      "default",
		Payload:    []byte(`{}`),
		State:      job.StatePending,
		MaxRetries: maxRetries,
		RunAt:      runAt,
	}
	if err := f.store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func waitForState(t *testing.T, s *memory.Store, jobID id.JobID, want job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := s.GetJob(context.Background(), jobID)
		if err == nil && j.State == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := s.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last state %s", jobID, want, j.State)
	return nil
}

func register(reg *job.Registry, name string, fn func(ctx context.Context, p struct{}) error) {
	job.RegisterDefinition(reg, job.NewDefinition(name, fn))
}

func TestPool_StartStopIdempotent(t *testing.T) {
	f := newFixture(t, granter.SystemClock{})
	p := f.pool()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if p.WorkerID().IsNil() {
		t.Fatal("pool should have a worker id")
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	f := newFixture(t, granter.SystemClock{})
	var calls atomic.Int32
	register(f.registry, "grant-badge", func(context.Context, struct{}) error {
		calls.Add(1)
		return nil
	})
	j := f.enqueue(t, "grant-badge", 3, time.Now().UTC())

	p := f.pool()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	got := waitForState(t, f.store, j.ID, job.StateCompleted)
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if got.WorkerID != p.WorkerID() {
		t.Errorf("WorkerID = %s, want %s", got.WorkerID, p.WorkerID())
	}
}

func TestPool_FailingJobEndsInDLQ(t *testing.T) {
	f := newFixture(t, granter.SystemClock{})
	var calls atomic.Int32
	register(f.registry, "ensure-badge-consistency", func(context.Context, struct{}) error {
		calls.Add(1)
		return errors.New("database unavailable")
	})
	j := f.enqueue(t, "ensure-badge-consistency", 2, time.Now().UTC())

	p := f.pool()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	got := waitForState(t, f.store, j.ID, job.StateFailed)
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3 (1 + 2 retries)", calls.Load())
	}
	if got.LastError != "database unavailable" {
		t.Errorf("LastError = %q", got.LastError)
	}

	n, err := f.store.CountDLQ(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("CountDLQ = %d, %v; want 1", n, err)
	}
}

func TestPool_DoesNotClaimFutureJob(t *testing.T) {
	clock := granter.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, clock)
	var calls atomic.Int32
	register(f.registry, "ensure-badge-consistency", func(context.Context, struct{}) error {
		calls.Add(1)
		return nil
	})
	j := f.enqueue(t, "ensure-badge-consistency", 3, clock.Now().Add(5*time.Minute))

	p := f.pool()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("job ran before its RunAt")
	}

	clock.Advance(5 * time.Minute)
	waitForState(t, f.store, j.ID, job.StateCompleted)
}

func TestPool_FullQueueIsNotClaimed(t *testing.T) {
	f := newFixture(t, granter.SystemClock{})
	register(f.registry, "grant-badge", func(context.Context, struct{}) error { return nil })
	j := f.enqueue(t, "grant-badge", 3, time.Now().UTC())

	mgr := queue.NewManager(queue.Config{Name: "default", MaxConcurrency: 1})
	if !mgr.Acquire("default") {
		t.Fatal("Acquire should succeed")
	}

	p := f.pool(worker.WithQueueManager(mgr))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	got, err := f.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || !got.WorkerID.IsNil() {
		t.Fatalf("job claimed while its queue was full: state=%s worker=%s", got.State, got.WorkerID)
	}

	mgr.Release("default")
	waitForState(t, f.store, j.ID, job.StateCompleted)
	if n := mgr.ActiveCount("default"); n != 0 {
		t.Fatalf("ActiveCount after run = %d, want 0", n)
	}
}

func TestPool_IdlePollsReturnPermits(t *testing.T) {
	f := newFixture(t, granter.SystemClock{})
	mgr := queue.NewManager(
		queue.Config{Name: "default", MaxConcurrency: 1},
		queue.Config{Name: "low", MaxConcurrency: 1},
	)

	p := f.pool(worker.WithQueueManager(mgr), worker.WithPoolQueues([]string{"default", "low"}))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	_ = p.Stop(context.Background())

	for _, q := range []string{"default", "low"} {
		if n := mgr.ActiveCount(q); n != 0 {
			t.Fatalf("ActiveCount(%s) = %d after idle polling, want 0", q, n)
		}
	}
}

func TestPool_ReapsStaleJob(t *testing.T) {
	clock := granter.NewManualClock(time.Now().UTC())
	f := newFixture(t, clock)

	j := f.enqueue(t, "grant-badge", 3, clock.Now())
	claimed, err := f.store.DequeueJobs(context.Background(), []string{"default"}, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueJobs = %d, %v", len(claimed), err)
	}
	clock.Advance(time.Minute)

	p := f.pool(worker.WithPoolConcurrency(0), worker.WithStaleJobThreshold(20*time.Millisecond))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	got := waitForState(t, f.store, j.ID, job.StateRetrying)
	if !got.WorkerID.IsNil() {
		t.Error("reaped job should have no worker")
	}
	if got.Cancellable() {
		t.Error("reaped job should not be cancellable")
	}
}

// finishingStore completes every stale job right after reporting it, the
// way a slow worker finishes between the reaper's read and its reset.
type finishingStore struct {
	*memory.Store
	finished atomic.Int32
}

func (s *finishingStore) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	stale, err := s.Store.ReapStaleJobs(ctx, threshold)
	for _, j := range stale {
		done := *j
		done.State = job.StateCompleted
		if s.Store.UpdateJob(ctx, &done) == nil {
			s.finished.Add(1)
		}
	}
	return stale, err
}

func TestPool_ReaperLeavesFinishedJobAlone(t *testing.T) {
	clock := granter.NewManualClock(time.Now().UTC())
	f := newFixture(t, clock)
	fs := &finishingStore{Store: f.store}

	j := f.enqueue(t, "ensure-badge-consistency", 3, clock.Now())
	if claimed, _ := f.store.DequeueJobs(context.Background(), nil, id.NewWorkerID(), 1); len(claimed) != 1 {
		t.Fatal("expected one claimed job")
	}
	clock.Advance(time.Minute)

	p := worker.NewPool(fs, f.executor, f.exts, slog.Default(),
		worker.WithPoolConcurrency(0),
		worker.WithPoolClock(clock),
		worker.WithStaleJobThreshold(20*time.Millisecond),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for fs.finished.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	_ = p.Stop(context.Background())

	if fs.finished.Load() == 0 {
		t.Fatal("reaper never saw the stale job")
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.State != job.StateCompleted {
		t.Fatalf("State = %s, want completed", got.State)
	}
}

func TestExecutor_UnknownJobCountsAsFailure(t *testing.T) {
	f := newFixture(t, granter.SystemClock{})
	j := f.enqueue(t, "unknown", 0, time.Now().UTC())

	claimed, _ := f.store.DequeueJobs(context.Background(), nil, id.NewWorkerID(), 1)
	if len(claimed) != 1 {
		t.Fatal("expected one claimed job")
	}
	if err := f.executor.Execute(context.Background(), claimed[0]); err == nil {
		t.Fatal("expected error for unregistered job")
	}

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.State != job.StateFailed {
		t.Fatalf("State = %s, want failed", got.State)
	}
}
