package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adno-labs/agent-runtime/internal/model"
	"github.com/adno-labs/agent-runtime/internal/resilience"
	"github.com/adno-labs/agent-runtime/internal/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	tr := transport.New(transport.Config{BaseURL: srv.URL, APIKey: "agnt_test", Timeout: time.Second})
	chain := resilience.NewChain(tr, resilience.RetryConfig{MaxAttempts: 1}, resilience.DefaultBreakerConfig())
	return New(chain), srv
}

func TestAuthenticate_Success(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.AgentConfig{Version: "v1"})
	})
	defer srv.Close()

	version, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if version != "v1" {
		t.Errorf("version = %q, want v1", version)
	}
}

func TestAuthenticate_InvalidCredential(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"title": "Unauthorized"})
	})
	defer srv.Close()

	_, err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}

func TestAuthenticate_Forbidden(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer srv.Close()

	_, err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthForbidden) {
		t.Errorf("err = %v, want ErrAuthForbidden", err)
	}
}

func TestGetTasks_PiggybackConfig(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("config_version") != "v1" {
			t.Errorf("config_version = %q, want v1", r.URL.Query().Get("config_version"))
		}
		json.NewEncoder(w).Encode(getTasksWire{
			Tasks:  nil,
			Config: &model.AgentConfig{Version: "v2"},
		})
	})
	defer srv.Close()

	res, err := client.GetTasks(context.Background(), 5, "v1")
	if err != nil {
		t.Fatalf("GetTasks() error = %v", err)
	}
	if res.Config == nil || res.Config.Version != "v2" {
		t.Errorf("Config = %+v, want version v2", res.Config)
	}
}

func TestClaimTask_RejectedIsNotError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	defer srv.Close()

	_, ok, err := client.ClaimTask(context.Background(), "T1")
	if err != nil {
		t.Fatalf("ClaimTask() error = %v", err)
	}
	if ok {
		t.Error("ok = true, want false for rejected claim")
	}
}

func TestClaimTask_Success(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.AgentTask{ID: "T1", Type: model.WorkerFetcher})
	})
	defer srv.Close()

	task, ok, err := client.ClaimTask(context.Background(), "T1")
	if err != nil {
		t.Fatalf("ClaimTask() error = %v", err)
	}
	if !ok || task.ID != "T1" {
		t.Errorf("task = %+v, ok = %v", task, ok)
	}
}

type stackError struct{ stack string }

func (e stackError) Error() string      { return "boom" }
func (e stackError) StackTrace() string { return e.stack }

func TestFailTask_ForwardsStackTraceWhenPresent(t *testing.T) {
	var body struct {
		Error     string `json:"error"`
		Stack     string `json:"stack"`
		Retryable bool   `json:"retryable"`
	}
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
	})
	defer srv.Close()

	err := client.FailTask(context.Background(), "T1", stackError{stack: "at line 1"}, true)
	if err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}
	if body.Error != "boom" || body.Stack != "at line 1" || !body.Retryable {
		t.Errorf("body = %+v", body)
	}
}

func TestCreateTask_AlreadyPendingIsNotError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CreateTaskResult{TaskID: "T2", Status: "already_pending"})
	})
	defer srv.Close()

	res, err := client.CreateTask(context.Background(), CreateTaskRequest{Type: model.WorkerFetcher, Priority: 0})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if res.Status != "already_pending" {
		t.Errorf("status = %q", res.Status)
	}
}
