// Package events routes terminal task results to their observers: the
// result store, the structured log, and anything else registered at
// startup. The worker engine emits exactly one event per terminal task
// outcome.
package events

import (
	"context"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// ResultHandler is implemented by components that consume terminal task
// results.
type ResultHandler interface {
	// HandleResult processes one terminal task result.
	// Returns an error if the result could not be handled.
	HandleResult(ctx context.Context, result *domain.TaskResult) error
}

// ResultEmitter is implemented by components that publish terminal task
// results to registered handlers.
type ResultEmitter interface {
	// EmitResult publishes the result to all registered handlers.
	EmitResult(ctx context.Context, result *domain.TaskResult) error
}
