package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type and must be JSON-serializable.
type Definition[T any] struct {
	// Name is the unique identifier for this job kind.
	Name string

	// Handler processes one decoded payload.
	Handler func(ctx context.Context, payload T) error

	// Opts are the default enqueue options for this kind.
	Opts []Option
}

// NewDefinition creates a typed job definition. opts become the defaults
// applied whenever a job of this kind is enqueued through the engine.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    opts,
	}
}
