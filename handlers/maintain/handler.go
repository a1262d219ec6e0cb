// Package maintain implements the scheduled maintain worker: it purges
// expired rows from the agent's own auxiliary storage on the interval
// configured for the maintain worker type.
package maintain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/housekeeping"
	"github.com/adno-labs/agent-runtime/internal/model"
)

const defaultRetention = 30 * 24 * time.Hour

// Handler purges expired auxiliary-storage rows.
type Handler struct {
	store *housekeeping.Store
}

// New builds a Handler.
func New(store *housekeeping.Store) *Handler {
	return &Handler{store: store}
}

type taskPayload struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

type result struct {
	LedgerRowsPurged int64 `json:"ledger_rows_purged"`
	LogRowsPurged    int64 `json:"log_rows_purged"`
}

// Execute implements handler.Handler.
func (h *Handler) Execute(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
	retention := defaultRetention
	if len(task.Payload) > 0 {
		var payload taskPayload
		if err := json.Unmarshal(task.Payload, &payload); err == nil && payload.RetentionDays > 0 {
			retention = time.Duration(payload.RetentionDays) * 24 * time.Hour
		}
	}

	ledgerRows, logRows, err := h.store.PurgeExpired(ctx, retention)
	if err != nil {
		return nil, fmt.Errorf("purge expired rows: %w", err)
	}

	return json.Marshal(result{LedgerRowsPurged: ledgerRows, LogRowsPurged: logRows})
}
