package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued       = "job.enqueued"
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionJobRetrying       = "job.retrying"
	ActionJobDLQ            = "job.dlq"
	ActionJobsCancelled     = "job.cancelled"
	ActionDebounced         = "job.debounced"
	ActionCronFired         = "cron.fired"
	ActionLeadershipChanged = "cluster.leadership_changed"
)

// Audit event categories group related actions.
const (
	CategoryJob     = "granter.job"
	CategoryCron    = "granter.cron"
	CategoryCluster = "granter.cluster"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob     = "job"
	ResourceJobKind = "job_kind"
	ResourceCron    = "cron_entry"
	ResourceWorker  = "worker"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionJobsCancelled,
		ActionDebounced,
		ActionCronFired,
		ActionLeadershipChanged,
	}
}
