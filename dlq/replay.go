package dlq

import (
	"context"
	"fmt"

	"github.com/xraph/granter"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

// Replay re-enqueues an entry as a fresh pending job that runs now, then
// marks the entry replayed. Replaying an entry twice returns
// granter.ErrInvalidState.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Replayed() {
		return nil, fmt.Errorf("dlq entry %s: %w", entryID, granter.ErrInvalidState)
	}

	now := s.clock.Now()
	j := &job.Job{
		Entity:     granter.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewJobID(),
		Name:       entry.JobName,
		Queue:      entry.Queue,
		Payload:    entry.Payload,
		State:      job.StatePending,
		MaxRetries: entry.MaxRetries,
		RunAt:      now,
	}
	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	// The job is enqueued either way; surface the marking error to the caller.
	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return j, err
	}
	return j, nil
}
