package granter

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("granter: no store configured")
	ErrStoreClosed     = errors.New("granter: store closed")
	ErrMigrationFailed = errors.New("granter: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("granter: job not found")
	ErrDLQNotFound   = errors.New("granter: dlq entry not found")
	ErrBadgeNotFound = errors.New("granter: badge not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("granter: job already exists")

	// State errors.
	ErrInvalidState       = errors.New("granter: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("granter: max retries exceeded")

	// Lock errors.
	ErrLockTimeout    = errors.New("granter: lock acquire timed out")
	ErrLockNotHeld    = errors.New("granter: lock not held")
	ErrLeadershipLost = errors.New("granter: leadership lost")
)
