// Package housekeeping implements the periodic cleanup queries the maintain
// worker runs against the agent's own auxiliary PostgreSQL state.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store runs retention cleanup queries against a schema of tables this
// agent itself manages (processed-item ledgers, run logs) — not the control
// plane's own database, which this agent never touches directly.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// NewStore builds a Store over an existing pool.
func NewStore(pool *pgxpool.Pool, schema string) *Store {
	if schema == "" {
		schema = "public"
	}
	return &Store{pool: pool, schema: schema}
}

func (s *Store) tableName(name string) string {
	return fmt.Sprintf("%s.%s", s.schema, name)
}

// PurgeExpired deletes rows older than olderThan from the agent's own
// processed-item ledger and run log tables, returning the number of rows
// removed from each.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Duration) (ledgerRows, logRows int64, err error) {
	cutoff := time.Now().Add(-olderThan)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin purge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ledgerTag, err := tx.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE seen_at < $1", s.tableName("processed_items")), cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("purge processed_items: %w", err)
	}

	logTag, err := tx.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE created_at < $1", s.tableName("run_log")), cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("purge run_log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit purge transaction: %w", err)
	}

	return ledgerTag.RowsAffected(), logTag.RowsAffected(), nil
}
