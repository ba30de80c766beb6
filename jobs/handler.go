package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Handler defines the interface for executing a specific job kind.
// Domain packages implement this interface to handle their job kinds,
// allowing the jobs infrastructure to remain decoupled from domain logic.
//
// Design: Dependency Inversion
// - jobs package defines this abstraction
// - domain packages provide implementations
// - worker pool executes instances through handlers without knowing domain details
type Handler interface {
	// Execute runs the instance and returns any error encountered.
	// The handler should:
	// - Decode inst.Payload into a handler-specific struct
	// - Set inst.Result to a short human-readable summary on success
	// - Return nil on success, error on failure
	// - Return an error wrapping errors.ErrInvalidPayload for payloads
	//   that can never execute; these are not retried
	//
	// Context cancellation: Handlers MUST check ctx.Done() periodically
	// and exit cleanly when cancelled.
	Execute(ctx context.Context, inst *Instance) error

	// Name returns the handler kind (e.g., "scrape", "status-update").
	// Used for handler registration and instance routing.
	Name() string
}

// Registry manages job handlers by kind.
// Thread-safe for concurrent handler registration and lookup.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler using its name.
// Panics if a handler is already registered with that name.
func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for kind: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a kind.
// Returns nil if no handler is registered.
func (r *Registry) Get(kind string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

// Has checks if a handler is registered for a kind.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[kind]
	return exists
}

// Names returns all registered handler kinds.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
