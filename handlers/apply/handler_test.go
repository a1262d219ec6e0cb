package apply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adno-labs/agent-runtime/internal/aiclient"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/model"
)

func newTestAI(t *testing.T, reply string) *aiclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": reply}},
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return aiclient.New(aiclient.Config{APIKey: "k", Endpoint: srv.URL})
}

func TestHandler_AppliesSuggestion(t *testing.T) {
	h := New(newTestAI(t, "rewritten content"))

	payload, _ := json.Marshal(taskPayload{Content: "old content", Suggestion: "make it better"})
	task := model.AgentTask{ID: "T1", Payload: payload}

	res, err := h.Execute(context.Background(), task, handler.Context{Cancelled: make(chan struct{})})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var decoded result
	if err := json.Unmarshal(res, &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded.AppliedContent != "rewritten content" {
		t.Errorf("AppliedContent = %q", decoded.AppliedContent)
	}
}

func TestHandler_MissingFieldsIsRejected(t *testing.T) {
	h := New(newTestAI(t, "unused"))

	payload, _ := json.Marshal(taskPayload{Content: "old content"})
	task := model.AgentTask{ID: "T1", Payload: payload}

	_, err := h.Execute(context.Background(), task, handler.Context{Cancelled: make(chan struct{})})
	if err == nil {
		t.Fatal("expected an error when suggestion is missing")
	}
}
