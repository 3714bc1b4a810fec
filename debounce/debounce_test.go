package debounce_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/backoff"
	"github.com/xraph/granter/debounce"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/lock"
	"github.com/xraph/granter/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const sweep = "ensure-badge-consistency"

// storeScheduler drives a memory store the way the engine does.
type storeScheduler struct {
	store *memory.Store
	clock granter.Clock

	cancelErr  error
	enqueueErr error
}

func (s *storeScheduler) CancelScheduled(ctx context.Context, name string) (int64, error) {
	if s.cancelErr != nil {
		return 0, s.cancelErr
	}
	return s.store.CancelScheduledJobs(ctx, name)
}

func (s *storeScheduler) EnqueueIn(ctx context.Context, name string, payload []byte, delay time.Duration, opts ...job.Option) (*job.Job, error) {
	if s.enqueueErr != nil {
		return nil, s.enqueueErr
	}
	o := job.Apply(nil, opts...)
	j := &job.Job{
		Entity:     granter.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      o.Queue,
		Payload:    payload,
		State:      job.StatePending,
		MaxRetries: o.MaxRetries,
		RunAt:      s.clock.Now().Add(delay),
		Scheduled:  true,
	}
	if err := s.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

type recorder struct {
	mu     sync.Mutex
	events []int64
}

func (r *recorder) EmitDebounced(_ context.Context, _ *job.Job, cancelled int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, cancelled)
}

type harness struct {
	clock *granter.ManualClock
	store *memory.Store
	sched *storeScheduler
	obs   *recorder
	d     *debounce.Debouncer
}

func newHarness(mutexOpts ...lock.Option) *harness {
	clock := granter.NewManualClock(t0)
	store := memory.New(memory.WithClock(clock))
	sched := &storeScheduler{store: store, clock: clock}
	mutexOpts = append([]lock.Option{
		lock.WithBackoff(backoff.NewConstant(time.Millisecond)),
		lock.WithClock(clock),
	}, mutexOpts...)
	obs := &recorder{}
	return &harness{
		clock: clock,
		store: store,
		sched: sched,
		obs:   obs,
		d:     debounce.New(sched, lock.NewMutex(store, mutexOpts...), debounce.WithObserver(obs)),
	}
}

func (h *harness) pending(t *testing.T) []*job.Job {
	t.Helper()
	jobs, err := h.store.ListJobsByState(context.Background(), job.StatePending, job.ListOpts{Name: sweep})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	return jobs
}

func TestDebounce_SchedulesOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if err := h.d.Debounce(ctx, debounce.KeyFor(sweep), []byte(`{}`), 5*time.Minute, job.WithQueue("low")); err != nil {
		t.Fatalf("Debounce: %v", err)
	}

	pending := h.pending(t)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	j := pending[0]
	if !j.RunAt.Equal(t0.Add(5*time.Minute)) || !j.Scheduled || j.Queue != "low" {
		t.Fatalf("unexpected job %+v", j)
	}
	if len(h.obs.events) != 1 || h.obs.events[0] != 0 {
		t.Fatalf("observer events = %v, want [0]", h.obs.events)
	}
	if _, held := h.store.Lease(sweep); held {
		t.Fatal("lock should be released")
	}
}

func TestDebounce_TrailingEdge(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	key := debounce.KeyFor(sweep)

	if err := h.d.Debounce(ctx, key, nil, 5*time.Minute); err != nil {
		t.Fatal(err)
	}
	first := h.pending(t)[0]

	h.clock.Advance(time.Minute)
	if err := h.d.Debounce(ctx, key, nil, 5*time.Minute); err != nil {
		t.Fatal(err)
	}

	pending := h.pending(t)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if !pending[0].RunAt.Equal(t0.Add(6 * time.Minute)) {
		t.Fatalf("RunAt = %v, want T+6m", pending[0].RunAt)
	}

	old, _ := h.store.GetJob(ctx, first.ID)
	if old.State != job.StateCancelled {
		t.Fatalf("first job state = %q, want cancelled", old.State)
	}
	if h.obs.events[1] != 1 {
		t.Fatalf("second debounce cancelled %d, want 1", h.obs.events[1])
	}

	// Nothing is due before T+6m.
	h.clock.Set(t0.Add(6*time.Minute - time.Second))
	due, _ := h.store.DequeueJobs(ctx, []string{"default"}, id.NewWorkerID(), 10)
	if len(due) != 0 {
		t.Fatalf("%d jobs due before the quiet period ended", len(due))
	}
	h.clock.Set(t0.Add(6 * time.Minute))
	due, _ = h.store.DequeueJobs(ctx, []string{"default"}, id.NewWorkerID(), 10)
	if len(due) != 1 {
		t.Fatalf("%d jobs due at T+6m, want 1", len(due))
	}
}

func TestDebounce_ConcurrentCallersLeaveOnePending(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.d.Debounce(ctx, debounce.KeyFor(sweep), nil, 5*time.Minute); err != nil {
				t.Errorf("Debounce: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(h.pending(t)); n != 1 {
		t.Fatalf("pending = %d, want exactly 1", n)
	}
	cancelled, _ := h.store.CountJobs(ctx, job.CountOpts{Name: sweep, State: job.StateCancelled})
	if cancelled != 19 {
		t.Fatalf("cancelled = %d, want 19", cancelled)
	}
}

func TestDebounce_RunningJobIsLeftAlone(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	key := debounce.KeyFor(sweep)

	if err := h.d.Debounce(ctx, key, nil, 5*time.Minute); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(5 * time.Minute)
	claimed, _ := h.store.DequeueJobs(ctx, []string{"default"}, id.NewWorkerID(), 1)
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}

	if err := h.d.Debounce(ctx, key, nil, 5*time.Minute); err != nil {
		t.Fatal(err)
	}

	running, _ := h.store.GetJob(ctx, claimed[0].ID)
	if running.State != job.StateRunning {
		t.Fatalf("running job state = %q, want running", running.State)
	}
	if n := len(h.pending(t)); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestDebounce_DistinctKeysDoNotInterfere(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_ = h.d.Debounce(ctx, debounce.KeyFor(sweep), nil, time.Minute)
	_ = h.d.Debounce(ctx, debounce.KeyFor("other"), nil, time.Minute)

	n, _ := h.store.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
}

func TestDebounce_CancelErrorSkipsEnqueue(t *testing.T) {
	h := newHarness()
	boom := errors.New("store down")
	h.sched.cancelErr = boom

	err := h.d.Debounce(context.Background(), debounce.KeyFor(sweep), nil, time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if n := len(h.pending(t)); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	if _, held := h.store.Lease(sweep); held {
		t.Fatal("lock should be released after a cancel failure")
	}
	if len(h.obs.events) != 0 {
		t.Fatal("observer should not fire on failure")
	}
}

func TestDebounce_EnqueueErrorReleasesLock(t *testing.T) {
	h := newHarness()
	boom := errors.New("enqueue failed")
	h.sched.enqueueErr = boom

	err := h.d.Debounce(context.Background(), debounce.KeyFor(sweep), nil, time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if _, held := h.store.Lease(sweep); held {
		t.Fatal("lock should be released after an enqueue failure")
	}
}

func TestDebounce_LockTimeout(t *testing.T) {
	h := newHarness(lock.WithAcquireTimeout(20 * time.Millisecond))
	if ok, _ := h.store.AcquireLock(context.Background(), sweep, "someone-else", time.Hour); !ok {
		t.Fatal("seed lease")
	}

	err := h.d.Debounce(context.Background(), debounce.KeyFor(sweep), nil, time.Minute)
	if !errors.Is(err, granter.ErrLockTimeout) {
		t.Fatalf("got %v, want ErrLockTimeout", err)
	}
	if n := len(h.pending(t)); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestKeyFor(t *testing.T) {
	k := debounce.KeyFor(sweep)
	if k.Lock != sweep || k.Job != sweep {
		t.Fatalf("KeyFor = %+v", k)
	}
}
