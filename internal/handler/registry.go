// Package handler defines the capability the dispatcher invokes to execute
// one task, and the registry mapping a worker-type tag to its handler.
package handler

import (
	"context"
	"fmt"

	"github.com/adno-labs/agent-runtime/internal/controlplane"
	"github.com/adno-labs/agent-runtime/internal/model"
)

// Context is handed to every handler invocation. It bundles everything a
// handler needs without the runtime inspecting what the handler does with
// it: the current agent config (for worker-specific settings), the
// workspace config (external credentials), a reference to the control-plane
// client (for handlers that need to make their own auxiliary calls), and a
// per-task cancellation signal the handler is expected to observe
// cooperatively at I/O boundaries.
type Context struct {
	Config          model.AgentConfig
	WorkspaceConfig model.WorkspaceConfig
	ControlPlane    *controlplane.Client
	Cancelled       <-chan struct{}
}

// Done reports whether the task's cancellation token has been tripped.
func (c Context) Done() bool {
	select {
	case <-c.Cancelled:
		return true
	default:
		return false
	}
}

// Handler executes one task of the worker type it is registered under.
type Handler interface {
	Execute(ctx context.Context, task model.AgentTask, hc Context) (model.TaskResult, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, task model.AgentTask, hc Context) (model.TaskResult, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task model.AgentTask, hc Context) (model.TaskResult, error) {
	return f(ctx, task, hc)
}

// Registry maps a worker-type tag to its handler. Mutations are expected
// only at startup, before the dispatcher begins routing tasks; it is not
// synchronized for concurrent writes.
type Registry struct {
	handlers map[model.WorkerType]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.WorkerType]Handler)}
}

// Register associates a worker type with a handler, overwriting any
// previous registration for that type.
func (r *Registry) Register(t model.WorkerType, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the handler for a worker type, if any is registered.
func (r *Registry) Lookup(t model.WorkerType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// ErrNoHandler is what the dispatcher reports to failTask when a task's type
// has no registered handler; this is a configuration problem, not a task
// failure the handler chose to raise.
type ErrNoHandler struct {
	Type model.WorkerType
}

func (e ErrNoHandler) Error() string {
	return fmt.Sprintf("no handler registered for worker type %q", e.Type)
}
