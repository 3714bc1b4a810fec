package dlq

import (
	"context"

	"github.com/xraph/granter"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	clock    granter.Clock
}

// NewService creates a DLQ service. A nil clock means the system clock.
func NewService(store Store, jobStore job.Store, clock granter.Clock) *Service {
	if clock == nil {
		clock = granter.SystemClock{}
	}
	return &Service{store: store, jobStore: jobStore, clock: clock}
}

// Push records j as dead with the handler error that ended it.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := s.clock.Now()
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return s.store.PushDLQ(ctx, &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		JobName:    j.Name,
		Queue:      j.Queue,
		Payload:    j.Payload,
		Error:      msg,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		FailedAt:   now,
		CreatedAt:  now,
	})
}

// DLQStore returns the underlying store for list, get, purge and count.
func (s *Service) DLQStore() Store {
	return s.store
}
