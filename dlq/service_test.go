package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/store/memory"
)

func newFailedJob(name string, payload []byte) *job.Job {
	return &job.Job{
		Entity:     granter.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      "low",
		Payload:    payload,
		State:      job.StateFailed,
		MaxRetries: 3,
		RetryCount: 3,
		LastError:  "test error",
		RunAt:      time.Now().UTC(),
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	j := newFailedJob("ensure-badge-consistency", []byte(`{}`))
	if err := svc.Push(ctx, j, errors.New("connection refused")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.JobName != "ensure-badge-consistency" {
		t.Errorf("JobName = %q", entry.JobName)
	}
	if entry.Queue != "low" {
		t.Errorf("Queue = %q, want low", entry.Queue)
	}
	if entry.Error != "connection refused" {
		t.Errorf("Error = %q, want %q", entry.Error, "connection refused")
	}
	if entry.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", entry.RetryCount)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if entry.Replayed() {
		t.Error("fresh entry should not be replayed")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	for i := range 3 {
		j := newFailedJob("grant-badge", nil)
		if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDLQ = %d, want 3", count)
	}
}

func TestService_Replay_CreatesNewPendingJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	original := newFailedJob("grant-badge", []byte(`{"badge_id":7}`))
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListDLQ = %d entries, err %v", len(entries), err)
	}
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.State != job.StatePending {
		t.Errorf("State = %q, want pending", replayed.State)
	}
	if replayed.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", replayed.RetryCount)
	}
	if string(replayed.Payload) != `{"badge_id":7}` {
		t.Errorf("Payload = %q", replayed.Payload)
	}

	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("stored job State = %q, want pending", got.State)
	}

	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if !entry.Replayed() {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestService_Replay_Twice(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	if err := svc.Push(ctx, newFailedJob("grant-badge", nil), errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := s.ListDLQ(ctx, dlq.ListOpts{})
	if _, err := svc.Replay(ctx, entries[0].ID); err != nil {
		t.Fatalf("first Replay: %v", err)
	}
	if _, err := svc.Replay(ctx, entries[0].ID); !errors.Is(err, granter.ErrInvalidState) {
		t.Fatalf("second Replay err = %v, want ErrInvalidState", err)
	}
}

func TestService_Replay_NotFound(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, granter.ErrDLQNotFound) {
		t.Fatalf("err = %v, want ErrDLQNotFound", err)
	}
}
