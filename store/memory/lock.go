package memory

import (
	"context"
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/lock"
)

// AcquireLock grants name to owner when it is free, expired or already
// held by owner.
func (m *Store) AcquireLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if l, ok := m.leases[name]; ok && l.Owner != owner && !l.Expired(now) {
		return false, nil
	}
	m.leases[name] = &lock.Lease{Name: name, Owner: owner, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLock drops name if owner holds it.
func (m *Store) ReleaseLock(_ context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[name]
	if !ok || l.Owner != owner {
		return granter.ErrLockNotHeld
	}
	delete(m.leases, name)
	return nil
}

// Lease returns a copy of the current lease on name, if any.
func (m *Store) Lease(name string) (lock.Lease, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.leases[name]
	if !ok {
		return lock.Lease{}, false
	}
	return *l, true
}
