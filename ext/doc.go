// Package ext defines lifecycle extensions.
//
// An extension implements [Extension] plus any of the hook interfaces it
// cares about:
//
//	type auditExt struct{ log *slog.Logger }
//
//	func (a *auditExt) Name() string { return "audit" }
//
//	func (a *auditExt) OnDebounced(ctx context.Context, j *job.Job, cancelled int64) error {
//	    a.log.InfoContext(ctx, "sweep rescheduled", "run_at", j.RunAt, "replaced", cancelled)
//	    return nil
//	}
//
// Job hooks: [JobEnqueued], [JobStarted], [JobCompleted], [JobFailed],
// [JobRetrying], [JobDLQ], [JobsCancelled] and [Debounced].
// Process hooks: [CronFired], [LeadershipChanged] and [Shutdown].
//
// The [Registry] fans each event out to the extensions implementing the
// hook. Hook errors are logged and never reach the job pipeline.
package ext
