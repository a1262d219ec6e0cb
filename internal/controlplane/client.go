// Package controlplane implements the typed operations the runtime issues
// against the remote control plane: authentication, configuration retrieval,
// task polling/claiming/completion, and signal posting. Every operation
// returns a structured result or a structured failure — none of them ever
// propagate a Go error across a loop boundary in the supervisor, dispatcher,
// or schedulers; callers decide what "nothing happened this tick" means.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/adno-labs/agent-runtime/internal/logging"
	"github.com/adno-labs/agent-runtime/internal/model"
	"github.com/adno-labs/agent-runtime/internal/resilience"
	"github.com/adno-labs/agent-runtime/internal/transport"
)

// ErrAuthInvalid means the bearer credential was rejected (401).
var ErrAuthInvalid = errors.New("control plane rejected credentials")

// ErrAuthForbidden means the credential is valid but lacks permission (403).
var ErrAuthForbidden = errors.New("control plane denied permission")

// Client issues every control-plane operation through a resilience Chain.
type Client struct {
	chain *resilience.Chain
}

// New builds a Client over an already-constructed Chain.
func New(chain *resilience.Chain) *Client {
	return &Client{chain: chain}
}

// Authenticate verifies the configured credential is accepted and returns
// the server's current config version. A fatal error (ErrAuthInvalid,
// ErrAuthForbidden, or any other failure) should stop startup; this is the
// one operation in this client whose caller is expected to treat failure as
// fatal rather than "nothing happened this tick."
func (c *Client) Authenticate(ctx context.Context) (version string, err error) {
	cfg, err := c.GetConfig(ctx)
	if err != nil {
		return "", classifyAuthError(err)
	}
	return cfg.Version, nil
}

func classifyAuthError(err error) error {
	var he *transport.HttpError
	if errors.As(err, &he) {
		switch he.Status {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthInvalid, he.Error())
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthForbidden, he.Error())
		}
	}
	return err
}

// GetConfig fetches the full agent configuration.
func (c *Client) GetConfig(ctx context.Context) (model.AgentConfig, error) {
	cfg, err := resilience.DoJSON[model.AgentConfig](ctx, c.chain, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/agent/config",
	})
	if err != nil {
		return model.AgentConfig{}, err
	}
	return cfg, nil
}

// GetWorkspaceConfig fetches the opaque handler-credential bundle.
func (c *Client) GetWorkspaceConfig(ctx context.Context) (model.WorkspaceConfig, error) {
	body, err := c.chain.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/agent/workspace-config",
	})
	if err != nil {
		return model.WorkspaceConfig{}, err
	}
	return model.WorkspaceConfig{Raw: body}, nil
}

// GetTasksResult is the response to a getTasks poll.
type GetTasksResult struct {
	Tasks  []model.AgentTask
	Config *model.AgentConfig // non-nil only when the server's version changed
}

type getTasksWire struct {
	Tasks  []model.AgentTask  `json:"tasks"`
	Config *model.AgentConfig `json:"config"`
}

// GetTasks polls for up to limit available tasks, piggybacking the known
// config version so the server can return a fresh config only when it has
// actually changed.
func (c *Client) GetTasks(ctx context.Context, limit int, knownVersion string) (GetTasksResult, error) {
	path := fmt.Sprintf("/api/agent/tasks?limit=%d", limit)
	if knownVersion != "" {
		path += "&config_version=" + knownVersion
	}
	wire, err := resilience.DoJSON[getTasksWire](ctx, c.chain, transport.Request{
		Method: http.MethodGet,
		Path:   path,
	})
	if err != nil {
		return GetTasksResult{}, err
	}
	return GetTasksResult{Tasks: wire.Tasks, Config: wire.Config}, nil
}

// CreateTaskRequest describes a task a scheduler wants created.
type CreateTaskRequest struct {
	Type     model.WorkerType `json:"type"`
	Priority int              `json:"priority"`
	Payload  any              `json:"payload,omitempty"`
}

// CreateTaskResult is the server's response to CreateTask.
type CreateTaskResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"` // "pending" or "already_pending"
}

// CreateTask asks the server to create a task. A Status of
// "already_pending" is an expected outcome, not an error.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (CreateTaskResult, error) {
	body, err := transport.MarshalBody(req)
	if err != nil {
		return CreateTaskResult{}, err
	}
	return resilience.DoJSON[CreateTaskResult](ctx, c.chain, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/agent/tasks",
		Body:   body,
	})
}

// ClaimTask attempts to claim a visible task. ok is false when another agent
// claimed it first; that is not an error condition.
func (c *Client) ClaimTask(ctx context.Context, id string) (task model.AgentTask, ok bool, err error) {
	body, err := c.chain.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/agent/tasks/" + id + "/claim",
	})
	if err != nil {
		var he *transport.HttpError
		if errors.As(err, &he) && (he.Status == http.StatusConflict || he.Status == http.StatusNotFound) {
			return model.AgentTask{}, false, nil
		}
		return model.AgentTask{}, false, err
	}
	if len(body) == 0 {
		return model.AgentTask{}, false, nil
	}
	var t model.AgentTask
	if uerr := json.Unmarshal(body, &t); uerr != nil {
		return model.AgentTask{}, false, uerr
	}
	return t, true, nil
}

// CompleteTask reports a successful task outcome.
func (c *Client) CompleteTask(ctx context.Context, id string, result model.TaskResult) error {
	body, err := transport.MarshalBody(struct {
		Result model.TaskResult `json:"result"`
	}{Result: result})
	if err != nil {
		return err
	}
	_, err = c.chain.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/agent/tasks/" + id + "/complete",
		Body:   body,
	})
	return err
}

// stackTracer is implemented by handler errors that want to surface a stack
// trace alongside their message; FailTask forwards it when present.
type stackTracer interface {
	StackTrace() string
}

// FailTask reports a failed task outcome. retryable tells the server
// whether to make the task visible again after a delay or mark it dead. When
// cause implements StackTrace() string, it is included in the payload.
func (c *Client) FailTask(ctx context.Context, id string, cause error, retryable bool) error {
	payload := struct {
		Error     string `json:"error"`
		Stack     string `json:"stack,omitempty"`
		Retryable bool   `json:"retryable"`
	}{Error: cause.Error(), Retryable: retryable}
	if st, ok := cause.(stackTracer); ok {
		payload.Stack = st.StackTrace()
	}

	body, err := transport.MarshalBody(payload)
	if err != nil {
		return err
	}
	_, err = c.chain.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/agent/tasks/" + id + "/fail",
		Body:   body,
	})
	return err
}

// SendSignals batch-posts lifecycle events and log lines. A failure is
// logged here at warn and returned; beyond the chain's bounded retry it is
// never retried — a dropped signal is not worth blocking the loop that
// produced it.
func (c *Client) SendSignals(ctx context.Context, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	body, err := transport.MarshalBody(struct {
		Signals []model.Signal `json:"signals"`
	}{Signals: signals})
	if err != nil {
		return err
	}
	_, err = c.chain.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/agent/signal",
		Body:   body,
	})
	if err != nil {
		logging.Warn().
			Add(logging.Component("controlplane")).
			Add(logging.Int("signal_count", len(signals))).
			Add(logging.ErrField(err)).
			Msg("failed to deliver signals")
	}
	return err
}
