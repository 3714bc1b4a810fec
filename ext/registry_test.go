package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/granter/ext"
	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobEnqueued(context.Context, *job.Job) error { return e.record("OnJobEnqueued") }
func (e *allHooksExt) OnJobStarted(context.Context, *job.Job) error  { return e.record("OnJobStarted") }
func (e *allHooksExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.record("OnJobCompleted")
}
func (e *allHooksExt) OnJobFailed(context.Context, *job.Job, error) error { return e.record("OnJobFailed") }
func (e *allHooksExt) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	return e.record("OnJobRetrying")
}
func (e *allHooksExt) OnJobDLQ(context.Context, *job.Job, error) error { return e.record("OnJobDLQ") }
func (e *allHooksExt) OnJobsCancelled(context.Context, string, int64) error {
	return e.record("OnJobsCancelled")
}
func (e *allHooksExt) OnDebounced(context.Context, *job.Job, int64) error {
	return e.record("OnDebounced")
}
func (e *allHooksExt) OnCronFired(context.Context, string, id.JobID) error {
	return e.record("OnCronFired")
}
func (e *allHooksExt) OnLeadershipChanged(context.Context, bool) error {
	return e.record("OnLeadershipChanged")
}
func (e *allHooksExt) OnShutdown(context.Context) error { return e.record("OnShutdown") }

type enqueueOnlyExt struct {
	calls int
}

func (e *enqueueOnlyExt) Name() string { return "enqueue-only" }

func (e *enqueueOnlyExt) OnJobEnqueued(context.Context, *job.Job) error {
	e.calls++
	return nil
}

type failingExt struct{}

func (failingExt) Name() string { return "failing" }

func (failingExt) OnJobEnqueued(context.Context, *job.Job) error { return errors.New("boom") }

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	eo := &enqueueOnlyExt{}
	r.Register(all)
	r.Register(eo)

	ctx := context.Background()
	j := &job.Job{Name: "grant-badge"}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls, got %v", all.calls)
	}
	if eo.calls != 1 {
		t.Fatalf("enqueue-only: expected 1 call, got %d", eo.calls)
	}
	if got := len(r.Extensions()); got != 2 {
		t.Fatalf("Extensions() = %d, want 2", got)
	}
}

func TestRegistry_AllHooksFireInOrder(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Name: "ensure-badge-consistency"}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobDLQ(ctx, j, errors.New("dlq"))
	r.EmitJobsCancelled(ctx, j.Name, 1)
	r.EmitDebounced(ctx, j, 1)
	r.EmitCronFired(ctx, "grant-all-badges", id.NewJobID())
	r.EmitLeadershipChanged(ctx, true)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobCompleted", "OnJobFailed",
		"OnJobRetrying", "OnJobDLQ", "OnJobsCancelled", "OnDebounced",
		"OnCronFired", "OnLeadershipChanged", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_JobsCancelledSkipsZero(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	r.EmitJobsCancelled(context.Background(), "ensure-badge-consistency", 0)
	if len(all.calls) != 0 {
		t.Fatalf("expected no calls for n=0, got %v", all.calls)
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(failingExt{})
	r.Register(all)

	r.EmitJobEnqueued(context.Background(), &job.Job{})

	if len(all.calls) != 1 || all.calls[0] != "OnJobEnqueued" {
		t.Fatalf("expected later extension to still fire, got %v", all.calls)
	}
}

func TestRegistry_NilLoggerAndEmptyRegistry(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	r.EmitJobEnqueued(ctx, &job.Job{})
	r.EmitDebounced(ctx, &job.Job{}, 0)
	r.EmitLeadershipChanged(ctx, false)
	r.EmitShutdown(ctx)
}
