package badge

// Outcome classifies how a recompute unit ended.
type Outcome string

const (
	// OutcomeGranted means the backfill ran to completion.
	OutcomeGranted Outcome = "granted"
	// OutcomeDisabled means badge granting is switched off globally.
	OutcomeDisabled Outcome = "disabled"
	// OutcomeMissing means the badge does not exist or is disabled.
	OutcomeMissing Outcome = "missing"
	// OutcomeFailed means the backfill failed. The error was reported and
	// is not retried.
	OutcomeFailed Outcome = "failed"
	// OutcomeLookupFailed means the badge could not be loaded. The job is
	// retried.
	OutcomeLookupFailed Outcome = "lookup_failed"
)

// Result is the outcome of one recompute unit.
type Result struct {
	BadgeID int64
	Outcome Outcome
	Err     error
}

// Retry reports whether the unit should fail so the queue runs it again.
func (r Result) Retry() bool { return r.Outcome == OutcomeLookupFailed }
