package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/granter"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.dlq(eID), dlqToMap(entry))
	pipe.SAdd(ctx, s.keys.dlqIDs(), eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("granter/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries ordered by FailedAt.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, s.keys.dlqIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("granter/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, s.keys.dlq(eID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("granter/redis: list dlq get: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			s.logger.Warn("skipping unreadable dlq entry", "id", eID, "error", convErr)
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].FailedAt.Before(entries[k].FailedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.dlq(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("granter/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, granter.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := s.keys.dlq(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("granter/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return granter.ErrDLQNotFound
	}

	if err := s.client.HSet(ctx, key, "replayed_at", s.clock.Now().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("granter/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, s.keys.dlqIDs()).Result()
	if err != nil {
		return 0, fmt.Errorf("granter/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := s.keys.dlq(eID)
		failedAtStr, getErr := s.client.HGet(ctx, key, "failed_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("granter/redis: purge dlq get: %w", getErr)
		}

		if parseTime(failedAtStr).Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.keys.dlqIDs(), eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("granter/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, s.keys.dlqIDs()).Result()
	if err != nil {
		return 0, fmt.Errorf("granter/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":          e.ID.String(),
		"job_id":      e.JobID.String(),
		"job_name":    e.JobName,
		"queue":       e.Queue,
		"payload":     string(e.Payload),
		"error":       e.Error,
		"retry_count": strconv.Itoa(e.RetryCount),
		"max_retries": strconv.Itoa(e.MaxRetries),
		"failed_at":   e.FailedAt.Format(time.RFC3339Nano),
		"created_at":  e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("granter/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])          //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"]) //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		ID:         eID,
		JobID:      jobID,
		JobName:    m["job_name"],
		Queue:      m["queue"],
		Payload:    []byte(m["payload"]),
		Error:      m["error"],
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		FailedAt:   parseTime(m["failed_at"]),
		ReplayedAt: parseOptTime(m["replayed_at"]),
		CreatedAt:  parseTime(m["created_at"]),
	}, nil
}
