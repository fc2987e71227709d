// Package process defines executable process handlers and the startup
// registration table that resolves catalog handler references to them.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased process handler: JSON-encoded parameters
// in, JSON-encoded result payload out. The typed Definition is converted
// to a HandlerFunc at registration time.
type HandlerFunc func(ctx context.Context, params []byte) ([]byte, error)

// Definition is a typed process handler. P is the parameter type and R
// the result type; both must be JSON-serializable.
type Definition[P, R any] struct {
	// Name is the handler reference resolved from the process catalog.
	Name string

	// Handler executes one invocation.
	Handler func(ctx context.Context, params P) (R, error)
}

// NewDefinition creates a typed process definition.
func NewDefinition[P, R any](name string, handler func(ctx context.Context, params P) (R, error)) *Definition[P, R] {
	return &Definition[P, R]{Name: name, Handler: handler}
}

// Registry maps handler reference names to type-erased handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register registers a typed process definition. The generic handler is
// wrapped in a closure that JSON-unmarshals the parameters into P and
// marshals the result back out.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[P, R any](r *Registry, def *Definition[P, R]) {
	handler := func(ctx context.Context, params []byte) ([]byte, error) {
		var p P
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("unmarshal params for process %q: %w", def.Name, err)
			}
		}

		result, err := def.Handler(ctx, p)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result for process %q: %w", def.Name, err)
		}
		return payload, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
}

// RegisterFunc registers an untyped handler under the given name.
func (r *Registry) RegisterFunc(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Get returns the handler for the given reference name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
