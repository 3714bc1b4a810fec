package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/granter"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

const jobColumns = `
	id, name, queue, payload, state, priority, max_retries, retry_count,
	last_error, worker_id, run_at, scheduled,
	started_at, completed_at, cancelled_at, heartbeat_at,
	timeout, created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO granter_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19
		)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.WorkerID.String(), j.RunAt, j.Scheduled,
		j.StartedAt, j.CompletedAt, j.CancelledAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return granter.ErrJobAlreadyExists
		}
		return fmt.Errorf("granter/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, sets them to running for workerID and returns them. SKIP LOCKED
// keeps concurrent workers from claiming the same row.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE granter_jobs
			SET state = 'running', worker_id = $4,
			    started_at = $3, heartbeat_at = $3, updated_at = $3
			WHERE id IN (
				SELECT id FROM granter_jobs
				WHERE state IN ('pending', 'retrying')
				  AND queue = ANY($1)
				  AND run_at <= $3
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT `+jobColumns+` FROM claimed ORDER BY priority DESC, run_at ASC`,
		queues, limit, s.clock.Now(), workerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("granter/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM granter_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, granter.ErrJobNotFound
		}
		return nil, fmt.Errorf("granter/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE granter_jobs SET
			name = $2, queue = $3, payload = $4, state = $5,
			priority = $6, max_retries = $7, retry_count = $8,
			last_error = $9, worker_id = $10, run_at = $11, scheduled = $12,
			started_at = $13, completed_at = $14, cancelled_at = $15,
			heartbeat_at = $16, timeout = $17, updated_at = $18
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.WorkerID.String(), j.RunAt, j.Scheduled,
		j.StartedAt, j.CompletedAt, j.CancelledAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(), s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("granter/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return granter.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM granter_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("granter/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return granter.ErrJobNotFound
	}
	return nil
}

// CancelScheduledJobs cancels every pending scheduled job with the given
// name. A row a worker is claiming is locked; once the claim commits the
// row is running and no longer matches.
func (s *Store) CancelScheduledJobs(ctx context.Context, name string) (int64, error) {
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE granter_jobs
		SET state = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE name = $1 AND state = 'pending' AND scheduled`,
		name, now,
	)
	if err != nil {
		return 0, fmt.Errorf("granter/postgres: cancel scheduled %s: %w", name, err)
	}
	return tag.RowsAffected(), nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM granter_jobs WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, opts.Name)
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("granter/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob stamps a running job owned by workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE granter_jobs SET heartbeat_at = $3, updated_at = $3
		WHERE id = $1 AND worker_id = $2 AND state = 'running'`,
		jobID.String(), workerID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("granter/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return granter.ErrInvalidState
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM granter_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		s.clock.Now().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("granter/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ResetStaleJob returns a job still running under workerID to retrying.
func (s *Store) ResetStaleJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE granter_jobs
		SET state = 'retrying', run_at = $3, worker_id = '',
		    started_at = NULL, heartbeat_at = NULL, updated_at = $4
		WHERE id = $1 AND worker_id = $2 AND state = 'running'`,
		jobID.String(), workerID.String(), runAt, s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("granter/postgres: reset stale job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return granter.ErrInvalidState
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM granter_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if opts.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, opts.Name)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("granter/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &workerStr, &j.RunAt, &j.Scheduled,
		&j.StartedAt, &j.CompletedAt, &j.CancelledAt, &j.HeartbeatAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("granter/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("granter/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("granter/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
