package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// InMemoryEmitter is a simple implementation of the ResultEmitter interface
// that stores registered handlers in memory and dispatches results to them.
type InMemoryEmitter struct {
	handlers []ResultHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates a new instance of InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		handlers: make([]ResultHandler, 0),
		logger:   logger.With("component", "result_emitter"),
	}
}

// RegisterHandler adds a new handler to receive terminal task results.
func (e *InMemoryEmitter) RegisterHandler(handler ResultHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered result handler", "handler_count", len(e.handlers))
}

// EmitResult publishes the result to all registered handlers. If a handler
// fails, the result is still delivered to the remaining handlers and the
// first error encountered is returned.
func (e *InMemoryEmitter) EmitResult(ctx context.Context, result *domain.TaskResult) error {
	e.mu.RLock()
	handlers := make([]ResultHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Warn("no handlers registered for task result",
			"task_id", result.TaskID,
			"outcome", result.Outcome)
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler.HandleResult(ctx, result); err != nil {
			e.logger.Error("result handler failed",
				"task_id", result.TaskID,
				"outcome", result.Outcome,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LogHandler is a ResultHandler that records every terminal outcome in the
// structured log.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler writing to logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With("component", "result_log")}
}

// HandleResult logs the result at a level matching its outcome.
func (h *LogHandler) HandleResult(ctx context.Context, result *domain.TaskResult) error {
	attrs := []any{
		"task_id", result.TaskID,
		"task_type", result.TaskType,
		"attempts", result.Attempts,
		"filtered", result.Filtered,
	}
	if result.Score != nil {
		attrs = append(attrs, "score", *result.Score)
	}

	if result.Outcome == domain.OutcomeSuccess {
		h.logger.Info("task succeeded", attrs...)
	} else {
		h.logger.Error("task failed", append(attrs, "error", result.Error)...)
	}
	return nil
}
