package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/granter"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

// EnqueueJob stores the job as a Hash and adds it to its queue's Sorted
// Set. Scheduled jobs are also indexed under their name for cancellation.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("granter/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return granter.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, s.keys.jobIDs(), jID)
	s.index(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("granter/redis: enqueue job: %w", err)
	}
	return nil
}

// index queues j in pipe according to its state: claimable jobs go into
// the queue set, and pending scheduled jobs into the cancel index.
func (s *Store) index(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	jID := j.ID.String()
	switch j.State {
	case job.StatePending, job.StateRetrying:
		pipe.ZAdd(ctx, s.keys.queue(j.Queue), goredis.Z{Score: jobScore(j.RunAt), Member: jID})
	default:
		pipe.ZRem(ctx, s.keys.queue(j.Queue), jID)
	}
	if j.Cancellable() {
		pipe.SAdd(ctx, s.keys.scheduled(j.Name), jID)
	} else {
		pipe.SRem(ctx, s.keys.scheduled(j.Name), jID)
	}
}

// DequeueJobs claims up to limit due jobs from the given queues, visiting
// queues in order. Within a queue jobs are claimed by RunAt.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	now := s.clock.Now()
	stamp := now.Format(time.RFC3339Nano)
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		remaining := limit - len(jobs)

		ids, err := claimScript.Run(ctx, s.client,
			[]string{s.keys.queue(q)},
			now.UnixMilli(), remaining, workerID.String(), stamp, string(s.keys),
		).StringSlice()
		if err != nil {
			return jobs, fmt.Errorf("granter/redis: dequeue %s: %w", q, err)
		}

		for _, jID := range ids {
			j, getErr := s.getJobByKey(ctx, s.keys.job(jID))
			if getErr != nil {
				return jobs, getErr
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.keys.job(jobID.String()))
}

// UpdateJob persists changes to an existing job and re-indexes it.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := s.keys.job(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("granter/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return granter.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = s.clock.Now().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	s.index(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("granter/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := s.keys.job(jID)

	vals, err := s.client.HMGet(ctx, key, "queue", "name").Result()
	if err != nil {
		return fmt.Errorf("granter/redis: delete job get: %w", err)
	}
	q, ok := vals[0].(string)
	if !ok {
		return granter.ErrJobNotFound
	}
	name, _ := vals[1].(string) //nolint:errcheck // set together with queue

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.keys.jobIDs(), jID)
	pipe.ZRem(ctx, s.keys.queue(q), jID)
	pipe.SRem(ctx, s.keys.scheduled(name), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("granter/redis: delete job: %w", err)
	}
	return nil
}

// CancelScheduledJobs cancels every pending scheduled job with the given
// name. Jobs claimed by a worker have already left the index.
func (s *Store) CancelScheduledJobs(ctx context.Context, name string) (int64, error) {
	n, err := cancelScript.Run(ctx, s.client,
		[]string{s.keys.scheduled(name)},
		s.clock.Now().Format(time.RFC3339Nano), string(s.keys),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("granter/redis: cancel scheduled %s: %w", name, err)
	}
	return n, nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Name != "" && j.Name != opts.Name {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := s.keys.job(jobID.String())
	vals, err := s.client.HMGet(ctx, key, "state", "worker_id").Result()
	if err != nil {
		return fmt.Errorf("granter/redis: heartbeat get: %w", err)
	}
	state, ok := vals[0].(string)
	if !ok {
		return granter.ErrJobNotFound
	}
	owner, _ := vals[1].(string) //nolint:errcheck // an absent owner never matches
	if state != string(job.StateRunning) || owner != workerID.String() {
		return granter.ErrInvalidState
	}

	now := s.clock.Now().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key, "heartbeat_at", now, "updated_at", now).Err(); err != nil {
		return fmt.Errorf("granter/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := s.clock.Now().Add(-threshold)

	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}
	var stale []*job.Job
	for _, j := range all {
		if j.State != job.StateRunning || j.HeartbeatAt == nil {
			continue
		}
		if j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// ResetStaleJob returns a job still running under workerID to retrying.
func (s *Store) ResetStaleJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, runAt time.Time) error {
	jID := jobID.String()
	n, err := resetScript.Run(ctx, s.client,
		[]string{s.keys.job(jID)},
		workerID.String(), runAt.Format(time.RFC3339Nano), runAt.UnixMilli(),
		s.clock.Now().Format(time.RFC3339Nano), string(s.keys), jID,
	).Int()
	if err != nil {
		return fmt.Errorf("granter/redis: reset stale job: %w", err)
	}
	switch n {
	case 1:
		return nil
	case -1:
		return granter.ErrJobNotFound
	default:
		return granter.ErrInvalidState
	}
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, j := range all {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Name != "" && j.Name != opts.Name {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// scanJobs loads every tracked job, oldest first. Ids whose Hash is gone
// are skipped.
func (s *Store) scanJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.keys.jobIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("granter/redis: list job ids: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.keys.job(jID))
		if getErr != nil {
			if errors.Is(getErr, granter.ErrJobNotFound) {
				continue
			}
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
	return jobs, nil
}

// jobScore is the Sorted Set score of a claimable job: its RunAt in
// milliseconds, so ZRANGEBYSCORE up to now yields exactly the due jobs.
func jobScore(runAt time.Time) float64 {
	return float64(runAt.UnixMilli())
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":          j.ID.String(),
		"name":        j.Name,
		"queue":       j.Queue,
		"payload":     string(j.Payload),
		"state":       string(j.State),
		"priority":    strconv.Itoa(j.Priority),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"retry_count": strconv.Itoa(j.RetryCount),
		"last_error":  j.LastError,
		"worker_id":   j.WorkerID.String(),
		"run_at":      j.RunAt.Format(time.RFC3339Nano),
		"scheduled":   strconv.FormatBool(j.Scheduled),
		"timeout":     strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.CancelledAt != nil {
		m["cancelled_at"] = j.CancelledAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("granter/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, granter.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("granter/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	scheduled, _ := strconv.ParseBool(m["scheduled"])    //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: granter.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:         jID,
		Name:       m["name"],
		Queue:      m["queue"],
		Payload:    []byte(m["payload"]),
		State:      job.State(m["state"]),
		Priority:   priority,
		MaxRetries: maxRetries,
		RetryCount: retryCount,
		LastError:  m["last_error"],
		RunAt:      parseTime(m["run_at"]),
		Scheduled:  scheduled,
		Timeout:    time.Duration(timeout),
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	j.StartedAt = parseOptTime(m["started_at"])
	j.CompletedAt = parseOptTime(m["completed_at"])
	j.CancelledAt = parseOptTime(m["cancelled_at"])
	j.HeartbeatAt = parseOptTime(m["heartbeat_at"])
	return j, nil
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func parseOptTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}
