// Package suggestion implements the event-driven suggestion worker: it asks
// the configured AI provider to evaluate a piece of content and returns the
// evaluation as the task result. Tasks of this type are produced by other
// parts of the control plane, never by a scheduler in this agent.
package suggestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adno-labs/agent-runtime/internal/aiclient"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/model"
)

// Handler evaluates content via an AI provider and returns its verdict.
type Handler struct {
	ai *aiclient.Client
}

// New builds a Handler over an already-configured AI client.
func New(ai *aiclient.Client) *Handler {
	return &Handler{ai: ai}
}

type taskPayload struct {
	Content string `json:"content"`
	Context string `json:"context,omitempty"`
}

type result struct {
	Suggestion   string `json:"suggestion"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Execute implements handler.Handler.
func (h *Handler) Execute(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode suggestion task payload: %w", err)
	}
	if payload.Content == "" {
		return nil, fmt.Errorf("suggestion task %s has no content to evaluate", task.ID)
	}

	if hc.Done() {
		return nil, fmt.Errorf("suggestion task %s cancelled before ai call", task.ID)
	}

	resp, err := h.ai.Complete(ctx, aiclient.CompletionRequest{
		System: "Evaluate the supplied content and suggest one concrete improvement.",
		Messages: []aiclient.Message{
			{Role: "user", Content: payload.Content},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ai completion: %w", err)
	}

	return json.Marshal(result{
		Suggestion:   resp.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
}
