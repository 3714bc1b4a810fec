package lock

import (
	"context"
	"time"
)

// Locker grants and revokes named leases.
type Locker interface {
	// AcquireLock tries once to take the lease on name for owner. It
	// returns true when owner holds the lease afterwards. Acquiring a lease
	// the owner already holds extends it to ttl from now.
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// ReleaseLock drops the lease if owner still holds it. It returns
	// granter.ErrLockNotHeld when the lease expired or passed to another
	// owner.
	ReleaseLock(ctx context.Context, name, owner string) error
}

// Lease is a granted hold on a name.
type Lease struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
