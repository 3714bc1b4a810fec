package badge

import "time"

const (
	// DefaultQuietDelay is how long after the last recompute the sweep runs.
	DefaultQuietDelay = 5 * time.Minute

	// SweepJobName is the job kind of the consistency sweep. It is also the
	// name of the lock guarding its reschedule.
	SweepJobName = "ensure-badge-consistency"

	// GrantJobName is the job kind of one recompute unit.
	GrantJobName = "grant-badge"

	// GrantAllJobName is the job kind of the fan-out.
	GrantAllJobName = "grant-all-badges"
)

// Config holds the badge service settings.
type Config struct {
	// QuietDelay is the trailing debounce window for the sweep.
	QuietDelay time.Duration

	// SweepJobName and SweepLockName key the debounced sweep.
	SweepJobName  string
	SweepLockName string

	// GrantJobName and GrantAllJobName are the unit and fan-out job kinds.
	GrantJobName    string
	GrantAllJobName string

	// Queue receives every badge job. Backfills are heavy, so it defaults
	// to the rate-limited "low" queue.
	Queue string

	// SweepMaxRetries bounds sweep retries before it lands in the DLQ.
	SweepMaxRetries int

	// CancelBeforeBackfill withdraws a pending sweep before a backfill
	// starts, so a sweep never fires in the middle of one.
	CancelBeforeBackfill bool
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		QuietDelay:           DefaultQuietDelay,
		SweepJobName:         SweepJobName,
		SweepLockName:        SweepJobName,
		GrantJobName:         GrantJobName,
		GrantAllJobName:      GrantAllJobName,
		Queue:                "low",
		SweepMaxRetries:      3,
		CancelBeforeBackfill: true,
	}
}

// GrantPayload is the payload of a recompute unit.
type GrantPayload struct {
	BadgeID int64 `json:"badge_id"`
}

// GrantAllPayload is the payload of the fan-out job.
type GrantAllPayload struct{}

// SweepPayload is the payload of the consistency sweep.
type SweepPayload struct{}
