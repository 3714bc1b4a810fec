// Package postgres implements every granter persistence contract on
// PostgreSQL using pgx/v5: the job queue, the dead letter queue, lock
// leases, and the badge source and reconciler.
//
// Dequeue claims rows with SELECT ... FOR UPDATE SKIP LOCKED, so a job is
// handed to exactly one worker. Cancelling scheduled jobs is a single
// UPDATE guarded by state = 'pending'; a row a worker has claimed no
// longer matches. Leases are rows in granter_locks taken with a
// conditional upsert.
//
// Schema migrations are embedded and applied by Migrate.
package postgres
