// Package memory is an in-process store. It implements every persistence
// contract (jobs, DLQ, lock leases and the badge source) behind a single
// mutex. It backs unit tests and single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/badge"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/lock"
)

var (
	_ job.Store        = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
	_ lock.Locker      = (*Store)(nil)
	_ badge.Source     = (*Store)(nil)
	_ badge.Reconciler = (*Store)(nil)
)

type jobRecord struct {
	job *job.Job
	seq uint64
}

// Store is a fully in-memory store. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	clock granter.Clock

	seq  uint64
	jobs map[string]*jobRecord
	dlqs map[string]*dlq.Entry

	leases map[string]*lock.Lease

	badges     map[int64]*badge.Badge
	queries    map[int64]GrantQuery
	grants     map[grantKey]badge.Grant
	userCounts map[int64]int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for RunAt, heartbeat and lease checks.
func WithClock(c granter.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:      granter.SystemClock{},
		jobs:       make(map[string]*jobRecord),
		dlqs:       make(map[string]*dlq.Entry),
		leases:     make(map[string]*lock.Lease),
		badges:     make(map[int64]*badge.Badge),
		queries:    make(map[int64]GrantQuery),
		grants:     make(map[grantKey]badge.Grant),
		userCounts: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return granter.ErrJobAlreadyExists
	}
	m.seq++
	cp := *j
	m.jobs[key] = &jobRecord{job: &cp, seq: m.seq}
	return nil
}

// DequeueJobs claims up to limit due jobs ordered by priority, then RunAt,
// then enqueue order.
func (m *Store) DequeueJobs(_ context.Context, queues []string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}
	now := m.clock.Now()

	candidates := make([]*jobRecord, 0)
	for _, r := range m.jobs {
		if !r.job.Dequeueable(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[r.job.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i].job, candidates[k].job
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.RunAt.Equal(b.RunAt) {
			return a.RunAt.Before(b.RunAt)
		}
		return candidates[i].seq < candidates[k].seq
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*job.Job, len(candidates))
	for i, r := range candidates {
		started := now
		r.job.State = job.StateRunning
		r.job.WorkerID = workerID
		r.job.StartedAt = &started
		r.job.HeartbeatAt = &started
		r.job.UpdatedAt = now
		cp := *r.job
		claimed[i] = &cp
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, granter.ErrJobNotFound
	}
	cp := *r.job
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[j.ID.String()]
	if !ok {
		return granter.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = m.clock.Now()
	r.job = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return granter.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// CancelScheduledJobs cancels every pending scheduled job named name.
func (m *Store) CancelScheduledJobs(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var n int64
	for _, r := range m.jobs {
		if r.job.Name != name || !r.job.Cancellable() {
			continue
		}
		at := now
		r.job.State = job.StateCancelled
		r.job.CancelledAt = &at
		r.job.UpdatedAt = now
		n++
	}
	return n, nil
}

// ListJobsByState returns jobs in state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*jobRecord, 0)
	for _, r := range m.jobs {
		if r.job.State != state {
			continue
		}
		if opts.Queue != "" && r.job.Queue != opts.Queue {
			continue
		}
		if opts.Name != "" && r.job.Name != opts.Name {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, k int) bool { return records[i].seq < records[k].seq })

	if opts.Offset > 0 {
		if opts.Offset >= len(records) {
			return nil, nil
		}
		records = records[opts.Offset:]
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	result := make([]*job.Job, len(records))
	for i, r := range records {
		cp := *r.job
		result[i] = &cp
	}
	return result, nil
}

// HeartbeatJob stamps a running job owned by workerID.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return granter.ErrJobNotFound
	}
	if r.job.State != job.StateRunning || r.job.WorkerID != workerID {
		return granter.ErrInvalidState
	}
	now := m.clock.Now()
	r.job.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.clock.Now().Add(-threshold)
	var stale []*job.Job
	for _, r := range m.jobs {
		if r.job.State != job.StateRunning || r.job.HeartbeatAt == nil {
			continue
		}
		if r.job.HeartbeatAt.Before(cutoff) {
			cp := *r.job
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// ResetStaleJob returns a job still running under workerID to retrying.
func (m *Store) ResetStaleJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return granter.ErrJobNotFound
	}
	if r.job.State != job.StateRunning || r.job.WorkerID != workerID {
		return granter.ErrInvalidState
	}
	r.job.State = job.StateRetrying
	r.job.RunAt = runAt
	r.job.WorkerID = id.WorkerID{}
	r.job.StartedAt = nil
	r.job.HeartbeatAt = nil
	r.job.UpdatedAt = m.clock.Now()
	return nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.jobs {
		if opts.Queue != "" && r.job.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && r.job.State != opts.State {
			continue
		}
		if opts.Name != "" && r.job.Name != opts.Name {
			continue
		}
		count++
	}
	return count, nil
}
