package handler

import (
	"context"
	"log/slog"

	"github.com/pagehaul/pagehaul/internal/domain"
	"github.com/pagehaul/pagehaul/internal/registry"
)

// SnapshotHandler captures a page's title and document size without
// scoring. Used for lightweight liveness checks on managed pages.
type SnapshotHandler struct {
	logger *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{logger: logger.With("task_type", TypeSnapshot)}
}

// Validate requires the same "target" argument as scrape.
func (h *SnapshotHandler) Validate(args map[string]any) error {
	return validateTarget(args)
}

// Execute captures the target page.
func (h *SnapshotHandler) Execute(ctx context.Context, task *domain.Task, deps registry.Deps) (*domain.TaskResult, error) {
	target, _ := task.StringArg("target")

	if deps.Filter.IsBlocked(filterCandidate(target)) {
		return domain.FilteredResult(), nil
	}

	session, err := deps.Sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	healthy := false
	defer func() { deps.Sessions.Release(session, healthy) }()

	page, err := session.Navigate(ctx, target)
	if err != nil {
		return nil, err
	}
	healthy = true

	return domain.SuccessResult(map[string]any{
		"target":     target,
		"title":      page.Title,
		"html_bytes": len(page.HTML),
	}), nil
}
