// Package results persists terminal task results. The rest of the engine
// only sees the Store interface; Postgres is one implementation behind it.
package results

import (
	"context"
	"database/sql"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// Store writes terminal task results to an opaque result store.
type Store interface {
	// SaveResult persists one terminal task result.
	SaveResult(ctx context.Context, result *domain.TaskResult) error
}

// DBTX abstracts over *sql.DB and *sql.Tx so stores can run inside a
// caller-managed transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
