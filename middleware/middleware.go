// Package middleware provides composable wrappers around job execution.
package middleware

import (
	"context"

	"github.com/xraph/granter/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It must call next unless it deliberately
// short-circuits.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware so the first one is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}
