// Package fetcher implements the scheduled fetcher worker: on each
// scheduler-created task it pulls recently changed items from the
// configured source system and reports how many were new, using a
// Redis-backed cache to avoid re-reporting items already seen within the
// dedup window.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/adno-labs/agent-runtime/internal/dedupcache"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/model"
)

// Item is one record returned by the source system.
type Item struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// SourceSystem is the external collaborator this handler pulls from. The
// runtime never talks to the source system directly; only this handler
// does, so its wire shape is opaque to everything above it.
type SourceSystem interface {
	FetchRecent(ctx context.Context) ([]Item, error)
}

// Handler fetches recent items and reports the new ones.
type Handler struct {
	source SourceSystem
	cache  *dedupcache.Cache
}

// New builds a Handler.
func New(source SourceSystem, cache *dedupcache.Cache) *Handler {
	return &Handler{source: source, cache: cache}
}

type result struct {
	RunID   string `json:"run_id"`
	Fetched int    `json:"fetched"`
	Skipped int    `json:"skipped"`
}

// Execute implements handler.Handler.
func (h *Handler) Execute(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
	runID := uuid.NewString()

	items, err := h.source.FetchRecent(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch recent items: %w", err)
	}

	fetched, skipped := 0, 0
	for _, item := range items {
		if hc.Done() {
			break
		}
		seen, err := h.cache.Seen(ctx, item.ID)
		if err != nil {
			// Dedup state unknown: proceed as if unseen rather than silently
			// dropping the item; duplicates are preferable to data loss.
			seen = false
		}
		if seen {
			skipped++
			continue
		}
		if err := h.cache.MarkSeen(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("mark item %s seen: %w", item.ID, err)
		}
		fetched++
	}

	return json.Marshal(result{RunID: runID, Fetched: fetched, Skipped: skipped})
}
