package memory

import (
	"context"
	"sort"

	"github.com/xraph/granter"
	"github.com/xraph/granter/badge"
)

// GrantQuery stands in for a badge's stored SQL query: it returns the ids
// of every user who should hold the badge right now.
type GrantQuery func(ctx context.Context) ([]int64, error)

type grantKey struct {
	badgeID int64
	userID  int64
}

// PutBadge inserts or replaces a badge definition.
func (m *Store) PutBadge(b badge.Badge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := b
	m.badges[b.ID] = &cp
}

// SetGrantQuery sets the query BackfillGrants runs for badgeID.
func (m *Store) SetGrantQuery(badgeID int64, q GrantQuery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[badgeID] = q
}

// DeleteBadge removes a badge and leaves its grants behind for the
// consistency sweep.
func (m *Store) DeleteBadge(badgeID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.badges, badgeID)
	delete(m.queries, badgeID)
}

// InsertGrant records a grant directly, bypassing any query.
func (m *Store) InsertGrant(g badge.Grant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[grantKey{g.BadgeID, g.UserID}] = g
}

// Badge returns a copy of a badge by id, enabled or not.
func (m *Store) Badge(badgeID int64) (badge.Badge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.badges[badgeID]
	if !ok {
		return badge.Badge{}, false
	}
	return *b, true
}

// Grants returns the grants of badgeID ordered by user id.
func (m *Store) Grants(badgeID int64) []badge.Grant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []badge.Grant
	for k, g := range m.grants {
		if k.badgeID == badgeID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UserID < out[k].UserID })
	return out
}

// UserBadgeCount returns the stored distinct badge count of a user.
func (m *Store) UserBadgeCount(userID int64) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userCounts[userID]
}

// EnabledBadges returns enabled badges ordered by id.
func (m *Store) EnabledBadges(_ context.Context) ([]*badge.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*badge.Badge, 0, len(m.badges))
	for _, b := range m.badges {
		if b.Enabled {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// FindEnabledBadge returns the badge if it exists and is enabled.
func (m *Store) FindEnabledBadge(_ context.Context, badgeID int64) (*badge.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.badges[badgeID]
	if !ok || !b.Enabled {
		return nil, granter.ErrBadgeNotFound
	}
	cp := *b
	return &cp, nil
}

// BackfillGrants runs the badge's grant query and inserts missing grants.
// With AutoRevoke, grants for users the query no longer returns are
// removed. A badge without a query grants nothing.
func (m *Store) BackfillGrants(ctx context.Context, b *badge.Badge) error {
	m.mu.RLock()
	q := m.queries[b.ID]
	m.mu.RUnlock()
	if q == nil {
		return nil
	}

	userIDs, err := q(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	eligible := make(map[int64]struct{}, len(userIDs))
	for _, uid := range userIDs {
		eligible[uid] = struct{}{}
		k := grantKey{b.ID, uid}
		if _, exists := m.grants[k]; !exists {
			m.grants[k] = badge.Grant{BadgeID: b.ID, UserID: uid, GrantedAt: now}
		}
	}
	if b.AutoRevoke {
		for k := range m.grants {
			if k.badgeID != b.ID {
				continue
			}
			if _, ok := eligible[k.userID]; !ok {
				delete(m.grants, k)
			}
		}
	}
	return nil
}

// EnsureConsistency removes orphaned grants, recounts grant_count and
// recomputes per-user badge counts. Only changed rows are counted in the
// report, so a second run over unchanged data reports zeros.
func (m *Store) EnsureConsistency(_ context.Context) (badge.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rep badge.Report

	for k := range m.grants {
		if _, ok := m.badges[k.badgeID]; !ok {
			delete(m.grants, k)
			rep.OrphansRemoved++
		}
	}

	perBadge := make(map[int64]int64, len(m.badges))
	perUser := make(map[int64]int64)
	for k := range m.grants {
		perBadge[k.badgeID]++
		perUser[k.userID]++
	}

	for bid, b := range m.badges {
		if b.GrantCount != perBadge[bid] {
			b.GrantCount = perBadge[bid]
			rep.BadgesRecounted++
		}
	}

	for uid, n := range perUser {
		if m.userCounts[uid] != n {
			m.userCounts[uid] = n
			rep.UsersUpdated++
		}
	}
	for uid := range m.userCounts {
		if _, ok := perUser[uid]; !ok {
			delete(m.userCounts, uid)
			rep.UsersUpdated++
		}
	}
	return rep, nil
}
