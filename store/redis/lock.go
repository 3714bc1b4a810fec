package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/granter"
)

// AcquireLock takes the lease on name for owner, or extends it when owner
// already holds it. Redis expires the key after ttl.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := acquireScript.Run(ctx, s.client, []string{s.keys.lock(name)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("granter/redis: acquire lock %s: %w", name, err)
	}
	return ok == 1, nil
}

// ReleaseLock deletes the lease if owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{s.keys.lock(name)}, owner).Int64()
	if err != nil {
		return fmt.Errorf("granter/redis: release lock %s: %w", name, err)
	}
	if n == 0 {
		return granter.ErrLockNotHeld
	}
	return nil
}
