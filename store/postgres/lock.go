package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/granter"
)

// AcquireLock takes the lease on name when it is free, expired or already
// held by owner. The upsert only overwrites a row it is allowed to take,
// so two contenders cannot both see their own owner returned.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	var holder string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO granter_locks (name, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE granter_locks.owner = EXCLUDED.owner OR granter_locks.expires_at <= $4
		RETURNING owner`,
		name, owner, now.Add(ttl), now,
	).Scan(&holder)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("granter/postgres: acquire lock %s: %w", name, err)
	}
	return holder == owner, nil
}

// ReleaseLock drops the lease if owner holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM granter_locks WHERE name = $1 AND owner = $2`,
		name, owner,
	)
	if err != nil {
		return fmt.Errorf("granter/postgres: release lock %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return granter.ErrLockNotHeld
	}
	return nil
}
