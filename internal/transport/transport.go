// Package transport issues single HTTPS requests against the control
// plane's base URL and decodes JSON bodies or structured errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the per-request deadline governing the entire round trip.
const DefaultTimeout = 30 * time.Second

// Transport issues one request at a time against a fixed base URL, with a
// bearer credential and JSON content type injected on every call.
type Transport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// Config configures a Transport.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // defaults to DefaultTimeout
	Client  *http.Client  // defaults to a client with no built-in timeout (the context deadline governs instead)
}

// New creates a Transport.
func New(cfg Config) *Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Transport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		timeout: timeout,
	}
}

// Request describes one outbound call.
type Request struct {
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// Do issues the request and returns the raw response body on a 2xx status,
// or a structured error (*TimeoutError, *HttpError, or a transport-level
// wrapped error) otherwise. Credentials are never included in the returned
// error or in any log line produced by this layer.
func (t *Transport) Do(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	url := t.baseURL + req.Path
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{Method: req.Method, Path: req.Path}
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	return nil, newHTTPError(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
}

// DoJSON issues req and decodes a successful JSON response into a T.
func DoJSON[T any](ctx context.Context, t *Transport, req Request) (T, error) {
	var out T
	body, err := t.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// MarshalBody is a small convenience wrapper used by every control-plane
// operation that sends a JSON request body.
func MarshalBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// IsTimeout reports whether err is a *TimeoutError.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}
