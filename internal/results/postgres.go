package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// PostgresStore implements Store on a Postgres database reached through
// database/sql with the pgx stdlib driver.
type PostgresStore struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on the given connection.
func NewPostgresStore(db DBTX, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.With("component", "result_store"),
	}
}

// SaveResult persists one terminal task result. Results are insert-only;
// a duplicate delivery that reaches a terminal state twice upserts onto the
// same task_id, keeping the write retry-safe.
func (s *PostgresStore) SaveResult(ctx context.Context, result *domain.TaskResult) error {
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal result payload: %w", err)
	}

	query := `
		INSERT INTO task_results
			(task_id, task_type, outcome, payload, error_detail, score, filtered, attempts, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			payload = EXCLUDED.payload,
			error_detail = EXCLUDED.error_detail,
			score = EXCLUDED.score,
			filtered = EXCLUDED.filtered,
			attempts = EXCLUDED.attempts,
			completed_at = EXCLUDED.completed_at
	`

	_, err = s.db.ExecContext(ctx, query,
		result.TaskID,
		result.TaskType,
		result.Outcome,
		payload,
		result.Error,
		result.Score,
		result.Filtered,
		result.Attempts,
		result.CompletedAt,
	)
	if err != nil {
		s.logger.Error("failed to save task result",
			"task_id", result.TaskID,
			"outcome", result.Outcome,
			"error", err)
		return fmt.Errorf("failed to save task result: %w", err)
	}
	return nil
}
