// Package registry provides explicit task-type dispatch. Handlers are
// registered once at process start; duplicate registration is an error, not
// a silent overwrite.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pagehaul/pagehaul/internal/browser"
	"github.com/pagehaul/pagehaul/internal/domain"
	"github.com/pagehaul/pagehaul/internal/filter"
	"github.com/pagehaul/pagehaul/internal/scorer"
)

// Deps bundles the shared resources a handler may use during execution.
// Filter and Scorer are read-only after load and need no locking; Sessions
// is the bounded browser pool, acquired lazily so filtered tasks never
// check out a session.
type Deps struct {
	Sessions *browser.Pool
	Filter   *filter.Set
	Scorer   *scorer.Model
}

// Handler implements one task type.
type Handler interface {
	// Validate checks the task's argument payload before dispatch. A
	// validation error short-circuits execution and is never retried, so
	// implementations must wrap domain.ErrValidation.
	Validate(args map[string]any) error

	// Execute runs the task. Implementations must be cooperative with ctx
	// at automation-call boundaries and must release any acquired session
	// on every exit path.
	Execute(ctx context.Context, task *domain.Task, deps Deps) (*domain.TaskResult, error)
}

// Registry maps task-type names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "task_registry"),
	}
}

// Register binds a handler to a task-type name. It fails with
// domain.ErrDuplicateTaskType if the name is already taken.
func (r *Registry) Register(typeName string, h Handler) error {
	if typeName == "" {
		return fmt.Errorf("task type name cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for task type %q cannot be nil", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[typeName]; exists {
		return fmt.Errorf("%w: %q", domain.ErrDuplicateTaskType, typeName)
	}
	r.handlers[typeName] = h
	r.logger.Debug("task handler registered", "task_type", typeName)
	return nil
}

// Resolve looks up the handler for a task-type name. It fails with
// domain.ErrUnknownTaskType if none is registered.
func (r *Registry) Resolve(typeName string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTaskType, typeName)
	}
	return h, nil
}

// Types returns the registered task-type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
