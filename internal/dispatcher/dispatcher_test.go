package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adno-labs/agent-runtime/internal/configstore"
	"github.com/adno-labs/agent-runtime/internal/controlplane"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/model"
	"github.com/adno-labs/agent-runtime/internal/resilience"
	"github.com/adno-labs/agent-runtime/internal/runtimestate"
	"github.com/adno-labs/agent-runtime/internal/transport"
)

type noopApplier struct{}

func (noopApplier) ApplyConfig(ctx context.Context, cfg model.AgentConfig) {}

func newTestDispatcher(t *testing.T, mux *http.ServeMux, maxConcurrent int) (*Dispatcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	tr := transport.New(transport.Config{BaseURL: srv.URL, APIKey: "agnt_test", Timeout: 2 * time.Second})
	chain := resilience.NewChain(tr, resilience.RetryConfig{MaxAttempts: 1}, resilience.DefaultBreakerConfig())
	client := controlplane.New(chain)

	state := runtimestate.New()
	state.SetConfig(model.AgentConfig{MaxConcurrentTasks: maxConcurrent})

	registry := handler.NewRegistry()
	d := New(client, registry, state, configstore.New(), noopApplier{})
	return d, srv
}

func TestDispatcher_ClaimRejectedEmitsNoSignals(t *testing.T) {
	var signalCount int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agent/tasks/T1/claim", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("/api/agent/signal", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&signalCount, 1)
	})

	d, srv := newTestDispatcher(t, mux, 3)
	defer srv.Close()

	d.execute(model.AgentTask{ID: "T1", Type: model.WorkerFetcher}, make(chan struct{}))

	if signalCount != 0 {
		t.Errorf("signalCount = %d, want 0 for a rejected claim", signalCount)
	}
	if d.InFlightCount() != 0 {
		t.Errorf("InFlightCount = %d, want 0", d.InFlightCount())
	}
}

func TestDispatcher_SuccessfulTaskSignalsStartedThenCompleted(t *testing.T) {
	var sequence []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agent/tasks/T1/claim", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.AgentTask{ID: "T1", Type: model.WorkerFetcher})
	})
	mux.HandleFunc("/api/agent/tasks/T1/complete", func(w http.ResponseWriter, r *http.Request) {
		sequence = append(sequence, "complete")
	})
	mux.HandleFunc("/api/agent/signal", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Signals []model.Signal `json:"signals"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, s := range body.Signals {
			sequence = append(sequence, string(s.Type))
		}
	})

	d, srv := newTestDispatcher(t, mux, 3)
	defer srv.Close()
	d.registry.Register(model.WorkerFetcher, handler.HandlerFunc(
		func(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
			return json.RawMessage(`{"ok":true}`), nil
		}))

	d.execute(model.AgentTask{ID: "T1", Type: model.WorkerFetcher}, make(chan struct{}))

	want := []string{"task_started", "complete", "task_completed"}
	if len(sequence) != len(want) {
		t.Fatalf("sequence = %v, want %v", sequence, want)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Errorf("sequence[%d] = %q, want %q", i, sequence[i], want[i])
		}
	}
}

func TestDispatcher_HandlerErrorReportsRetryableFailure(t *testing.T) {
	var failBody struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agent/tasks/T1/claim", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.AgentTask{ID: "T1", Type: model.WorkerSuggestion})
	})
	mux.HandleFunc("/api/agent/tasks/T1/fail", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&failBody)
	})
	mux.HandleFunc("/api/agent/signal", func(w http.ResponseWriter, r *http.Request) {})

	d, srv := newTestDispatcher(t, mux, 3)
	defer srv.Close()
	d.registry.Register(model.WorkerSuggestion, handler.HandlerFunc(
		func(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
			return nil, errBoom
		}))

	d.execute(model.AgentTask{ID: "T1", Type: model.WorkerSuggestion}, make(chan struct{}))

	if !failBody.Retryable {
		t.Error("retryable = false, want true for a handler error")
	}
}

func TestDispatcher_CancellationDuringShutdownReportsNonRetryable(t *testing.T) {
	var failBody struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agent/tasks/T1/claim", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.AgentTask{ID: "T1", Type: model.WorkerApply})
	})
	mux.HandleFunc("/api/agent/tasks/T1/fail", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&failBody)
	})
	mux.HandleFunc("/api/agent/signal", func(w http.ResponseWriter, r *http.Request) {})

	d, srv := newTestDispatcher(t, mux, 3)
	defer srv.Close()
	d.registry.Register(model.WorkerApply, handler.HandlerFunc(
		func(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
			d.BeginShutdown()
			return json.RawMessage(`{}`), nil
		}))

	// Register the token the way spawn does, so BeginShutdown trips it.
	cancel := make(chan struct{})
	d.mu.Lock()
	d.inFlight["T1"] = cancel
	d.mu.Unlock()

	d.execute(model.AgentTask{ID: "T1", Type: model.WorkerApply}, cancel)

	if failBody.Error == "" {
		t.Fatal("failTask was not reported for a task cancelled during shutdown")
	}
	if failBody.Retryable {
		t.Error("retryable = true, want false for a cancelled task")
	}
}

func TestDispatcher_HandlerErrorWithStackTraceReachesFailedSignal(t *testing.T) {
	var signalPayload map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agent/tasks/T1/claim", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.AgentTask{ID: "T1", Type: model.WorkerSuggestion})
	})
	mux.HandleFunc("/api/agent/tasks/T1/fail", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/agent/signal", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Signals []model.Signal `json:"signals"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, s := range body.Signals {
			if s.Type == model.SignalTaskFailed {
				json.Unmarshal(s.Payload, &signalPayload)
			}
		}
	})

	d, srv := newTestDispatcher(t, mux, 3)
	defer srv.Close()
	d.registry.Register(model.WorkerSuggestion, handler.HandlerFunc(
		func(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
			return nil, stackBoomError{}
		}))

	d.execute(model.AgentTask{ID: "T1", Type: model.WorkerSuggestion}, make(chan struct{}))

	if signalPayload["stack"] != "trace-here" {
		t.Errorf("signal payload stack = %q, want trace-here", signalPayload["stack"])
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}

type stackBoomError struct{}

func (stackBoomError) Error() string      { return "boom" }
func (stackBoomError) StackTrace() string { return "trace-here" }
