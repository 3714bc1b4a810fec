// Package store defines the aggregate persistence interfaces. The job, dlq
// and lock packages each define their own contract; Store composes them
// for a single backend. Badge data lives behind BadgeStore, which need not
// be the same backend.
package store

import (
	"context"

	"github.com/xraph/granter/badge"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/lock"
)

// Store is the aggregate persistence interface the engine runs on.
// Backends: Postgres, Redis and Memory.
type Store interface {
	job.Store
	dlq.Store
	lock.Locker

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// BadgeStore is what the badge service reads and repairs. Postgres and
// Memory implement it; Redis does not hold badge data.
type BadgeStore interface {
	badge.Source
	badge.Reconciler
}
