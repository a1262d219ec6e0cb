// Package sourcesystem is a thin HTTP client for the upstream system the
// fetcher worker syncs from. Its credentials and base URL arrive as
// passthrough environment variables the runtime never inspects; this client
// is the only thing in the codebase that understands the upstream's wire
// shape.
package sourcesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Org     string
	Project string
	Token   string
	Timeout time.Duration // defaults to 30s
}

// Client fetches recently changed items from the upstream source system.
type Client struct {
	baseURL string
	org     string
	project string
	token   string
	http    *http.Client
}

// New builds a Client from Config, applying defaults for unset fields.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		org:     cfg.Org,
		project: cfg.Project,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Item is one record the upstream system reports as recently changed.
type Item struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// FetchRecent returns items the upstream system has changed recently.
func (c *Client) FetchRecent(ctx context.Context) ([]Item, error) {
	url := fmt.Sprintf("%s/orgs/%s/projects/%s/items/recent", c.baseURL, c.org, c.project)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source system request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source system returned status %d", resp.StatusCode)
	}

	var wire struct {
		Items []Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode source system response: %w", err)
	}
	return wire.Items, nil
}
