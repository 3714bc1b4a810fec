package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	record := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(record("outer"), record("inner"))
	err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}
	if len(order) != len(expected) {
		t.Fatalf("got %v, want %v", order, expected)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_EmptyCallsHandler(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), &job.Job{}, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	want := errors.New("handler error")
	pass := func(ctx context.Context, _ *job.Job, next middleware.Handler) error { return next(ctx) }

	err := middleware.Chain(pass, pass)(context.Background(), &job.Job{}, func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Name: "grant-badge", ID: id.NewJobID()}

	err := mw(context.Background(), j, func(context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in job grant-badge: boom" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestLogging_PassesResultThrough(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	j := &job.Job{Name: "grant-badge", ID: id.NewJobID(), Queue: "low", RetryCount: 1}

	if err := mw(context.Background(), j, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := errors.New("fail")
	if err := mw(context.Background(), j, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_SetsDeadline(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{ID: id.NewJobID(), Timeout: 20 * time.Millisecond}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a deadline on the handler context")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroLeavesContextAlone(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	err := mw(context.Background(), &job.Job{ID: id.NewJobID()}, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
