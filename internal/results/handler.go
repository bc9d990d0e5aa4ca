package results

import (
	"context"
	"fmt"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// StoreHandler bridges the result event stream to a Store. Registered on
// the emitter at startup when a result store is configured.
type StoreHandler struct {
	store Store
}

// NewStoreHandler creates a StoreHandler writing to store.
func NewStoreHandler(store Store) *StoreHandler {
	return &StoreHandler{store: store}
}

// HandleResult persists the result.
func (h *StoreHandler) HandleResult(ctx context.Context, result *domain.TaskResult) error {
	if err := h.store.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("failed to persist task result: %w", err)
	}
	return nil
}
