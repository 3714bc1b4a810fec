package badge

import (
	"context"
	"time"
)

// Badge is an awardable badge. The service reads ID and Enabled; storage
// backends use Query and AutoRevoke to backfill grants.
type Badge struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Query      string `json:"query,omitempty"`
	AutoRevoke bool   `json:"auto_revoke"`
	GrantCount int64  `json:"grant_count"`
}

// Grant records that a user holds a badge. (BadgeID, UserID) is unique.
type Grant struct {
	BadgeID   int64     `json:"badge_id"`
	UserID    int64     `json:"user_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// Report summarizes one consistency sweep.
type Report struct {
	OrphansRemoved  int64 `json:"orphans_removed"`
	BadgesRecounted int64 `json:"badges_recounted"`
	UsersUpdated    int64 `json:"users_updated"`
}

// Source is the badge-management collaborator.
type Source interface {
	// EnabledBadges lists enabled badges in a stable order.
	EnabledBadges(ctx context.Context) ([]*Badge, error)

	// FindEnabledBadge returns the badge if it exists and is enabled, or
	// granter.ErrBadgeNotFound.
	FindEnabledBadge(ctx context.Context, badgeID int64) (*Badge, error)

	// BackfillGrants recomputes every grant of b. Running it twice with no
	// change in the underlying data must not create additional grants.
	BackfillGrants(ctx context.Context, b *Badge) error
}

// Reconciler repairs aggregate grant state after concurrent backfills.
type Reconciler interface {
	// EnsureConsistency removes grants of deleted badges and recomputes
	// per-badge and per-user counters. It is idempotent.
	EnsureConsistency(ctx context.Context) (Report, error)
}

// FeatureFlag reports whether badge granting is enabled globally.
type FeatureFlag interface {
	BadgesEnabled(ctx context.Context) bool
}

// FlagFunc adapts a function to FeatureFlag.
type FlagFunc func(ctx context.Context) bool

// BadgesEnabled calls f.
func (f FlagFunc) BadgesEnabled(ctx context.Context) bool { return f(ctx) }

// StaticFlag is a FeatureFlag fixed at construction.
type StaticFlag bool

// BadgesEnabled returns the flag value.
func (s StaticFlag) BadgesEnabled(context.Context) bool { return bool(s) }
