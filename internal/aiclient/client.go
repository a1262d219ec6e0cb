// Package aiclient is a minimal client for the external AI provider used by
// the suggestion and apply worker handlers. It speaks the Claude messages
// API directly over net/http, the same way upstream content-evaluation
// providers are invoked elsewhere in this codebase's lineage — no SDK
// wraps this one well-defined endpoint more cleanly than a direct call.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures a Client.
type Config struct {
	APIKey     string
	Endpoint   string // defaults to https://api.anthropic.com
	Deployment string // model identifier, e.g. "claude-sonnet-4-20250514"
	Timeout    time.Duration
}

// Client evaluates content or proposes edits via the configured AI provider.
type Client struct {
	apiKey     string
	endpoint   string
	deployment string
	http       *http.Client
}

// New builds a Client from Config, applying defaults for unset fields.
func New(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		deployment: cfg.Deployment,
		http:       &http.Client{Timeout: timeout},
	}
}

// Message is one turn in a conversation sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks the provider to continue a conversation.
type CompletionRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the provider's reply.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

type wireRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends req to the provider and returns its reply.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body, err := json.Marshal(wireRequest{
		Model:       c.deployment,
		MaxTokens:   maxTokens,
		Messages:    req.Messages,
		System:      req.System,
		Temperature: req.Temperature,
	})
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("ai provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("read ai provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return CompletionResponse{}, fmt.Errorf("ai provider returned status %d: %s", resp.StatusCode, raw)
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return CompletionResponse{}, fmt.Errorf("decode ai provider response: %w", err)
	}
	if wr.Error != nil {
		return CompletionResponse{}, fmt.Errorf("ai provider error (%s): %s", wr.Error.Type, wr.Error.Message)
	}

	var text string
	for _, block := range wr.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return CompletionResponse{
		Content:      text,
		InputTokens:  wr.Usage.InputTokens,
		OutputTokens: wr.Usage.OutputTokens,
	}, nil
}
