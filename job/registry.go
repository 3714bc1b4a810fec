package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts a raw JSON payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

type registration struct {
	handler HandlerFunc
	opts    []Option
}

// Registry maps job names to handlers and their default options.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// RegisterDefinition registers a typed definition. The handler is wrapped
// in a closure that decodes the payload into T first; an empty payload
// leaves T at its zero value.
//
// This is a package-level function because Go does not allow generic
// methods on non-generic receivers.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = registration{handler: handler, opts: def.Opts}
}

// Get returns the handler for the given job name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, ok
}

// Defaults returns the default options registered for name, if any.
func (r *Registry) Defaults(name string) []Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].opts
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
