package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/granter"
	"github.com/xraph/granter/badge"
)

const badgeColumns = `id, name, enabled, query, auto_revoke, grant_count`

// EnabledBadges returns enabled badges ordered by id.
func (s *Store) EnabledBadges(ctx context.Context) ([]*badge.Badge, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+badgeColumns+` FROM granter_badges WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("granter/postgres: list enabled badges: %w", err)
	}
	defer rows.Close()

	var badges []*badge.Badge
	for rows.Next() {
		b, scanErr := scanBadge(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("granter/postgres: scan badge row: %w", scanErr)
		}
		badges = append(badges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("granter/postgres: iterate badge rows: %w", err)
	}
	return badges, nil
}

// FindEnabledBadge returns the badge if it exists and is enabled.
func (s *Store) FindEnabledBadge(ctx context.Context, badgeID int64) (*badge.Badge, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+badgeColumns+` FROM granter_badges WHERE id = $1 AND enabled`, badgeID)
	b, err := scanBadge(row)
	if err != nil {
		if isNoRows(err) {
			return nil, granter.ErrBadgeNotFound
		}
		return nil, fmt.Errorf("granter/postgres: find badge %d: %w", badgeID, err)
	}
	return b, nil
}

// BackfillGrants runs the badge query and inserts the grants it yields.
// The query must select a user_id column. Existing grants are kept, so a
// second run adds nothing. With AutoRevoke, grants for users the query no
// longer returns are deleted in the same transaction. A badge without a
// query grants nothing.
func (s *Store) BackfillGrants(ctx context.Context, b *badge.Badge) error {
	if b.Query == "" {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("granter/postgres: backfill badge %d: begin: %w", b.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The badge query is trusted, administrator-authored SQL.
	if _, err := tx.Exec(ctx, `
		INSERT INTO granter_user_badges (badge_id, user_id, granted_at)
		SELECT DISTINCT $1::bigint, q.user_id, $2::timestamptz
		FROM (`+b.Query+`) AS q
		ON CONFLICT (badge_id, user_id) DO NOTHING`,
		b.ID, s.clock.Now(),
	); err != nil {
		return fmt.Errorf("granter/postgres: backfill badge %d: %w", b.ID, err)
	}

	if b.AutoRevoke {
		if _, err := tx.Exec(ctx, `
			DELETE FROM granter_user_badges ub
			WHERE ub.badge_id = $1
			  AND NOT EXISTS (
				SELECT 1 FROM (`+b.Query+`) AS q WHERE q.user_id = ub.user_id
			  )`,
			b.ID,
		); err != nil {
			return fmt.Errorf("granter/postgres: revoke badge %d: %w", b.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("granter/postgres: backfill badge %d: commit: %w", b.ID, err)
	}
	return nil
}

// EnsureConsistency removes grants of deleted badges, recounts
// grant_count per badge and recomputes per-user badge counts, all in one
// transaction. Only rows that changed are counted.
func (s *Store) EnsureConsistency(ctx context.Context) (badge.Report, error) {
	var rep badge.Report

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return rep, fmt.Errorf("granter/postgres: consistency: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		DELETE FROM granter_user_badges ub
		WHERE NOT EXISTS (SELECT 1 FROM granter_badges b WHERE b.id = ub.badge_id)`)
	if err != nil {
		return rep, fmt.Errorf("granter/postgres: consistency: remove orphans: %w", err)
	}
	rep.OrphansRemoved = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		UPDATE granter_badges b
		SET grant_count = c.n
		FROM (
			SELECT b2.id, COUNT(ub.user_id) AS n
			FROM granter_badges b2
			LEFT JOIN granter_user_badges ub ON ub.badge_id = b2.id
			GROUP BY b2.id
		) AS c
		WHERE b.id = c.id AND b.grant_count <> c.n`)
	if err != nil {
		return rep, fmt.Errorf("granter/postgres: consistency: recount badges: %w", err)
	}
	rep.BadgesRecounted = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		INSERT INTO granter_user_stats (user_id, badge_count)
		SELECT user_id, COUNT(*) FROM granter_user_badges GROUP BY user_id
		ON CONFLICT (user_id) DO UPDATE
		SET badge_count = EXCLUDED.badge_count
		WHERE granter_user_stats.badge_count <> EXCLUDED.badge_count`)
	if err != nil {
		return rep, fmt.Errorf("granter/postgres: consistency: update user stats: %w", err)
	}
	rep.UsersUpdated = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		DELETE FROM granter_user_stats st
		WHERE NOT EXISTS (SELECT 1 FROM granter_user_badges ub WHERE ub.user_id = st.user_id)`)
	if err != nil {
		return rep, fmt.Errorf("granter/postgres: consistency: clear user stats: %w", err)
	}
	rep.UsersUpdated += tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return badge.Report{}, fmt.Errorf("granter/postgres: consistency: commit: %w", err)
	}
	return rep, nil
}

// CreateBadge inserts b and sets its ID.
func (s *Store) CreateBadge(ctx context.Context, b *badge.Badge) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO granter_badges (name, enabled, query, auto_revoke)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		b.Name, b.Enabled, b.Query, b.AutoRevoke,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("granter/postgres: create badge: %w", err)
	}
	return nil
}

// SetBadgeEnabled switches a badge on or off.
func (s *Store) SetBadgeEnabled(ctx context.Context, badgeID int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE granter_badges SET enabled = $2 WHERE id = $1`, badgeID, enabled)
	if err != nil {
		return fmt.Errorf("granter/postgres: set badge %d enabled: %w", badgeID, err)
	}
	if tag.RowsAffected() == 0 {
		return granter.ErrBadgeNotFound
	}
	return nil
}

// DeleteBadge removes a badge. Its grants stay until the next sweep.
func (s *Store) DeleteBadge(ctx context.Context, badgeID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM granter_badges WHERE id = $1`, badgeID)
	if err != nil {
		return fmt.Errorf("granter/postgres: delete badge %d: %w", badgeID, err)
	}
	if tag.RowsAffected() == 0 {
		return granter.ErrBadgeNotFound
	}
	return nil
}

// GetBadge returns a badge by id, enabled or not.
func (s *Store) GetBadge(ctx context.Context, badgeID int64) (*badge.Badge, error) {
	b, err := scanBadge(s.pool.QueryRow(ctx, `SELECT `+badgeColumns+` FROM granter_badges WHERE id = $1`, badgeID))
	if err != nil {
		if isNoRows(err) {
			return nil, granter.ErrBadgeNotFound
		}
		return nil, fmt.Errorf("granter/postgres: get badge %d: %w", badgeID, err)
	}
	return b, nil
}

// Grants returns the grants of a badge ordered by user id.
func (s *Store) Grants(ctx context.Context, badgeID int64) ([]badge.Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT badge_id, user_id, granted_at
		FROM granter_user_badges
		WHERE badge_id = $1
		ORDER BY user_id`,
		badgeID,
	)
	if err != nil {
		return nil, fmt.Errorf("granter/postgres: list grants: %w", err)
	}
	grants, err := pgx.CollectRows(rows, pgx.RowToStructByPos[badge.Grant])
	if err != nil {
		return nil, fmt.Errorf("granter/postgres: scan grants: %w", err)
	}
	return grants, nil
}

// UserBadgeCount returns the stored badge count of a user, zero when the
// user has no stats row.
func (s *Store) UserBadgeCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT badge_count FROM granter_user_stats WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("granter/postgres: user badge count: %w", err)
	}
	return n, nil
}

func scanBadge(row pgx.Row) (*badge.Badge, error) {
	var b badge.Badge
	if err := row.Scan(&b.ID, &b.Name, &b.Enabled, &b.Query, &b.AutoRevoke, &b.GrantCount); err != nil {
		return nil, err
	}
	return &b, nil
}
