// Package apply implements the event-driven apply worker: it asks the
// configured AI provider to produce the final edited content for a
// previously generated and approved suggestion. Like suggestion tasks,
// apply tasks are event-driven — created by other control-plane producers,
// never by a scheduler in this agent.
package apply

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adno-labs/agent-runtime/internal/aiclient"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/model"
)

// Handler applies an approved suggestion to its target content.
type Handler struct {
	ai *aiclient.Client
}

// New builds a Handler over an already-configured AI client.
func New(ai *aiclient.Client) *Handler {
	return &Handler{ai: ai}
}

type taskPayload struct {
	Content    string `json:"content"`
	Suggestion string `json:"suggestion"`
}

type result struct {
	AppliedContent string `json:"applied_content"`
}

// Execute implements handler.Handler.
func (h *Handler) Execute(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode apply task payload: %w", err)
	}
	if payload.Content == "" || payload.Suggestion == "" {
		return nil, fmt.Errorf("apply task %s missing content or suggestion", task.ID)
	}

	if hc.Done() {
		return nil, fmt.Errorf("apply task %s cancelled before ai call", task.ID)
	}

	resp, err := h.ai.Complete(ctx, aiclient.CompletionRequest{
		System: "Rewrite the content to incorporate the given suggestion. Return only the rewritten content.",
		Messages: []aiclient.Message{
			{Role: "user", Content: fmt.Sprintf("Content:\n%s\n\nSuggestion:\n%s", payload.Content, payload.Suggestion)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ai completion: %w", err)
	}

	return json.Marshal(result{AppliedContent: resp.Content})
}
