//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/granter"
	"github.com/xraph/granter/badge"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T, opts ...postgres.Option) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("granter_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr, opts...)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newJob(name string, runAt time.Time, scheduled bool) *job.Job {
	return &job.Job{
		Entity:     granter.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      "low",
		Payload:    []byte(`{}`),
		State:      job.StatePending,
		MaxRetries: 3,
		RunAt:      runAt,
		Scheduled:  scheduled,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_PingAndMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func TestJobStore_EnqueueAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob("grant-badge", time.Now().UTC(), false)
	j.Payload = []byte(`{"badge_id":7}`)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, granter.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue: got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "grant-badge" || string(got.Payload) != `{"badge_id":7}` || got.Scheduled {
		t.Errorf("round trip mismatch: %+v", got)
	}

	nilPayload := newJob("ensure-badge-consistency", time.Now().UTC(), true)
	nilPayload.Payload = nil
	if err := s.EnqueueJob(ctx, nilPayload); err != nil {
		t.Fatalf("enqueue nil payload: %v", err)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, granter.ErrJobNotFound) {
		t.Errorf("missing job: got %v", err)
	}
}

func TestJobStore_DequeueRespectsRunAtAndPriority(t *testing.T) {
	clock := granter.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := setupTestStore(t, postgres.WithClock(clock))
	ctx := context.Background()
	worker := id.NewWorkerID()

	low := newJob("grant-badge", clock.Now(), false)
	high := newJob("grant-badge", clock.Now(), false)
	high.Priority = 10
	later := newJob("ensure-badge-consistency", clock.Now().Add(5*time.Minute), true)
	for _, j := range []*job.Job{low, high, later} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DequeueJobs(ctx, []string{"low"}, worker, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != high.ID || got[1].ID != low.ID {
		t.Fatalf("dequeued %v, want [high low]", got)
	}
	if got[0].WorkerID != worker || got[0].State != job.StateRunning {
		t.Errorf("claim not stamped: %+v", got[0])
	}

	clock.Advance(5 * time.Minute)
	got, _ = s.DequeueJobs(ctx, []string{"low"}, worker, 10)
	if len(got) != 1 || got[0].ID != later.ID {
		t.Fatalf("dequeued %v, want the scheduled job", got)
	}
}

func TestJobStore_DequeueExactlyOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const total = 40
	for i := 0; i < total; i++ {
		if err := s.EnqueueJob(ctx, newJob("grant-badge", time.Now().UTC(), false)); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				got, err := s.DequeueJobs(ctx, []string{"low"}, worker, 3)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, j := range got {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), total)
	}
	for jid, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jid, n)
		}
	}
}

func TestJobStore_CancelScheduled(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	const sweep = "ensure-badge-consistency"

	a := newJob(sweep, time.Now().UTC().Add(time.Hour), true)
	running := newJob(sweep, time.Now().UTC().Add(-time.Second), true)
	immediate := newJob(sweep, time.Now().UTC(), false)
	for _, j := range []*job.Job{a, running, immediate} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	// Claim only the overdue scheduled job.
	if got, _ := s.DequeueJobs(ctx, []string{"low"}, id.NewWorkerID(), 1); len(got) != 1 {
		t.Fatal("expected a claim")
	}

	n, err := s.CancelScheduledJobs(ctx, sweep)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cancelled = %d, want 1", n)
	}
	got, _ := s.GetJob(ctx, a.ID)
	if got.State != job.StateCancelled || got.CancelledAt == nil {
		t.Errorf("scheduled job = %+v", got)
	}
	if got, _ := s.GetJob(ctx, immediate.ID); got.State == job.StateCancelled {
		t.Error("unscheduled job must not be cancelled")
	}
	pending, _ := s.CountJobs(ctx, job.CountOpts{Name: sweep, State: job.StateCancelled})
	if pending != 1 {
		t.Errorf("cancelled count = %d", pending)
	}
}

func TestJobStore_HeartbeatAndReap(t *testing.T) {
	clock := granter.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := setupTestStore(t, postgres.WithClock(clock))
	ctx := context.Background()
	worker := id.NewWorkerID()

	j := newJob("grant-badge", clock.Now(), false)
	_ = s.EnqueueJob(ctx, j)
	if got, _ := s.DequeueJobs(ctx, []string{"low"}, worker, 1); len(got) != 1 {
		t.Fatal("expected a claim")
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, granter.ErrInvalidState) {
		t.Fatalf("foreign heartbeat: got %v", err)
	}
	if err := s.HeartbeatJob(ctx, id.NewJobID(), worker); !errors.Is(err, granter.ErrJobNotFound) {
		t.Fatalf("missing heartbeat: got %v", err)
	}

	clock.Advance(time.Minute)
	stale, _ := s.ReapStaleJobs(ctx, 30*time.Second)
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}
	if err := s.HeartbeatJob(ctx, j.ID, worker); err != nil {
		t.Fatal(err)
	}
	if stale, _ := s.ReapStaleJobs(ctx, 30*time.Second); len(stale) != 0 {
		t.Fatalf("stale after heartbeat = %d", len(stale))
	}
}

func TestJobStore_ResetStaleJob(t *testing.T) {
	clock := granter.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := setupTestStore(t, postgres.WithClock(clock))
	ctx := context.Background()
	worker := id.NewWorkerID()
	const sweep = "ensure-badge-consistency"

	j := newJob(sweep, clock.Now(), true)
	_ = s.EnqueueJob(ctx, j)
	if got, _ := s.DequeueJobs(ctx, []string{"low"}, worker, 1); len(got) != 1 {
		t.Fatal("expected a claim")
	}

	if err := s.ResetStaleJob(ctx, j.ID, id.NewWorkerID(), clock.Now()); !errors.Is(err, granter.ErrInvalidState) {
		t.Fatalf("foreign reset: got %v", err)
	}
	if err := s.ResetStaleJob(ctx, id.NewJobID(), worker, clock.Now()); !errors.Is(err, granter.ErrJobNotFound) {
		t.Fatalf("missing reset: got %v", err)
	}

	clock.Advance(time.Minute)
	if err := s.ResetStaleJob(ctx, j.ID, worker, clock.Now()); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.State != job.StateRetrying || !got.WorkerID.IsNil() {
		t.Fatalf("reset job: state=%s worker=%s", got.State, got.WorkerID)
	}
	if n, _ := s.CancelScheduledJobs(ctx, sweep); n != 0 {
		t.Fatalf("cancelled %d reset jobs, want 0", n)
	}
	if err := s.ResetStaleJob(ctx, j.ID, worker, clock.Now()); !errors.Is(err, granter.ErrInvalidState) {
		t.Fatalf("second reset: got %v", err)
	}
	if claimed, _ := s.DequeueJobs(ctx, []string{"low"}, worker, 1); len(claimed) != 1 {
		t.Fatal("reset job should be claimable again")
	}
}

// ──────────────────────────────────────────────────
// Lock tests
// ──────────────────────────────────────────────────

func TestLock_AcquireExtendExpire(t *testing.T) {
	clock := granter.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := setupTestStore(t, postgres.WithClock(clock))
	ctx := context.Background()
	const name = "ensure-badge-consistency"

	if ok, err := s.AcquireLock(ctx, name, "a", time.Minute); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	if ok, _ := s.AcquireLock(ctx, name, "b", time.Minute); ok {
		t.Fatal("held lock acquired by another owner")
	}
	if ok, _ := s.AcquireLock(ctx, name, "a", time.Minute); !ok {
		t.Fatal("holder should extend")
	}

	clock.Advance(2 * time.Minute)
	if ok, _ := s.AcquireLock(ctx, name, "b", time.Minute); !ok {
		t.Fatal("expired lease should be taken over")
	}
	if err := s.ReleaseLock(ctx, name, "a"); !errors.Is(err, granter.ErrLockNotHeld) {
		t.Fatalf("stale release: got %v", err)
	}
	if err := s.ReleaseLock(ctx, name, "b"); err != nil {
		t.Fatal(err)
	}
}

// ──────────────────────────────────────────────────
// Badge tests
// ──────────────────────────────────────────────────

func seedUsers(t *testing.T, s *postgres.Store) {
	t.Helper()
	_, err := s.Pool().Exec(context.Background(), `
		CREATE TABLE users (id BIGINT PRIMARY KEY, posts INT NOT NULL);
		INSERT INTO users VALUES (1, 10), (2, 0), (3, 25)`)
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
}

func TestBadge_BackfillIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, s)

	b := &badge.Badge{Name: "Writer", Enabled: true, Query: `SELECT id AS user_id FROM users WHERE posts > 0`}
	if err := s.CreateBadge(ctx, b); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := s.BackfillGrants(ctx, b); err != nil {
			t.Fatalf("backfill %d: %v", i, err)
		}
	}
	grants, err := s.Grants(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 2 || grants[0].UserID != 1 || grants[1].UserID != 3 {
		t.Fatalf("grants = %+v", grants)
	}
}

func TestBadge_AutoRevoke(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, s)

	b := &badge.Badge{Name: "Active", Enabled: true, AutoRevoke: true, Query: `SELECT id AS user_id FROM users WHERE posts > 0`}
	_ = s.CreateBadge(ctx, b)
	_ = s.BackfillGrants(ctx, b)

	if _, err := s.Pool().Exec(ctx, `UPDATE users SET posts = 0 WHERE id = 3`); err != nil {
		t.Fatal(err)
	}
	if err := s.BackfillGrants(ctx, b); err != nil {
		t.Fatal(err)
	}
	grants, _ := s.Grants(ctx, b.ID)
	if len(grants) != 1 || grants[0].UserID != 1 {
		t.Fatalf("grants after revoke = %+v", grants)
	}
}

func TestBadge_LookupAndBadQuery(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	on := &badge.Badge{Name: "On", Enabled: true, Query: `SELECT user_id FROM missing_table`}
	off := &badge.Badge{Name: "Off", Enabled: false}
	_ = s.CreateBadge(ctx, on)
	_ = s.CreateBadge(ctx, off)

	list, err := s.EnabledBadges(ctx)
	if err != nil || len(list) != 1 || list[0].ID != on.ID {
		t.Fatalf("enabled = %v, %v", list, err)
	}
	if _, err := s.FindEnabledBadge(ctx, off.ID); !errors.Is(err, granter.ErrBadgeNotFound) {
		t.Fatalf("disabled lookup: got %v", err)
	}
	if err := s.BackfillGrants(ctx, on); err == nil {
		t.Fatal("expected error from a broken badge query")
	}
}

func TestBadge_EnsureConsistency(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, s)

	a := &badge.Badge{Name: "A", Enabled: true, Query: `SELECT id AS user_id FROM users WHERE posts > 0`}
	b := &badge.Badge{Name: "B", Enabled: true, Query: `SELECT id AS user_id FROM users WHERE id = 1`}
	_ = s.CreateBadge(ctx, a)
	_ = s.CreateBadge(ctx, b)
	_ = s.BackfillGrants(ctx, a)
	_ = s.BackfillGrants(ctx, b)

	rep, err := s.EnsureConsistency(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep != (badge.Report{BadgesRecounted: 2, UsersUpdated: 2}) {
		t.Fatalf("first report = %+v", rep)
	}
	if n, _ := s.UserBadgeCount(ctx, 1); n != 2 {
		t.Fatalf("user 1 badge count = %d, want 2", n)
	}

	rep, _ = s.EnsureConsistency(ctx)
	if rep != (badge.Report{}) {
		t.Fatalf("second report = %+v, want zero", rep)
	}

	if err := s.DeleteBadge(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	rep, _ = s.EnsureConsistency(ctx)
	if rep.OrphansRemoved != 1 || rep.UsersUpdated != 1 {
		t.Fatalf("report after delete = %+v", rep)
	}
	if n, _ := s.UserBadgeCount(ctx, 1); n != 1 {
		t.Fatalf("user 1 badge count = %d, want 1", n)
	}
	got, _ := s.GetBadge(ctx, a.ID)
	if got.GrantCount != 2 {
		t.Fatalf("badge A grant_count = %d, want 2", got.GrantCount)
	}
}

// ──────────────────────────────────────────────────
// DLQ tests
// ──────────────────────────────────────────────────

func TestDLQ_PushReplayPurge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), JobName: "ensure-badge-consistency",
		Queue: "low", Error: "deadlock detected", RetryCount: 4, MaxRetries: 3,
		FailedAt: now.Add(-time.Hour), CreatedAt: now,
	}
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil || got.JobName != e.JobName || got.Replayed() {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if err := s.ReplayDLQ(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetDLQ(ctx, e.ID); !got.Replayed() {
		t.Error("entry should be replayed")
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, granter.ErrDLQNotFound) {
		t.Errorf("replay missing: got %v", err)
	}
	list, _ := s.ListDLQ(ctx, dlq.ListOpts{Queue: "low"})
	if len(list) != 1 {
		t.Fatalf("list = %d", len(list))
	}
	if n, _ := s.PurgeDLQ(ctx, now); n != 1 {
		t.Fatalf("purged = %d", n)
	}
	if c, _ := s.CountDLQ(ctx); c != 0 {
		t.Fatalf("count = %d", c)
	}
}
