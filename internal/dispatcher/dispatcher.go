// Package dispatcher implements the task poll-claim-execute loop: on each
// tick it asks the control plane for as many tasks as there is spare
// concurrency capacity, claims and executes each one under a per-task
// cancellation token, and reports the outcome back to the control plane.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/adno-labs/agent-runtime/internal/configstore"
	"github.com/adno-labs/agent-runtime/internal/controlplane"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/logging"
	"github.com/adno-labs/agent-runtime/internal/model"
	"github.com/adno-labs/agent-runtime/internal/runtimestate"
)

// ConfigApplier is implemented by the runtime supervisor; the dispatcher
// calls it when a poll response carries a piggybacked configuration change.
type ConfigApplier interface {
	ApplyConfig(ctx context.Context, cfg model.AgentConfig)
}

// Dispatcher runs the poll-claim-execute loop described above.
type Dispatcher struct {
	client   *controlplane.Client
	registry *handler.Registry
	state    *runtimestate.State
	versions *configstore.Store
	applier  ConfigApplier

	mu           sync.Mutex
	inFlight     map[string]chan struct{}
	shuttingDown bool
	wg           sync.WaitGroup
}

// New builds a Dispatcher.
func New(client *controlplane.Client, registry *handler.Registry, state *runtimestate.State, versions *configstore.Store, applier ConfigApplier) *Dispatcher {
	return &Dispatcher{
		client:   client,
		registry: registry,
		state:    state,
		versions: versions,
		applier:  applier,
		inFlight: make(map[string]chan struct{}),
	}
}

// InFlightCount returns the number of tasks currently executing.
func (d *Dispatcher) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Tick runs one poll iteration. It returns whether the poll call itself
// succeeded (claim/execute failures downstream of a successful poll do not
// count as poll failures for backoff purposes).
func (d *Dispatcher) Tick(ctx context.Context) (pollSucceeded bool) {
	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		return true
	}
	inFlight := len(d.inFlight)
	d.mu.Unlock()

	maxConcurrent := d.state.Config().MaxConcurrentTasks
	available := maxConcurrent - inFlight
	if available <= 0 {
		return true
	}

	version, _ := d.versions.Get()
	res, err := d.client.GetTasks(ctx, available, version)
	if err != nil {
		logging.Warn().
			Add(logging.Component("dispatcher")).
			Add(logging.ErrField(err)).
			Msg("task poll failed")
		return false
	}

	if res.Config != nil {
		d.versions.Set(res.Config.Version)
		d.applier.ApplyConfig(ctx, *res.Config)
	}

	for _, task := range res.Tasks {
		d.spawn(task)
	}
	return true
}

// spawn reserves the task's admission slot in inFlight immediately, before
// the claim round-trip even starts: claimTask is an async HTTP call, and a
// poll tick's admission check only looks at len(d.inFlight), so reserving at
// claim time instead would let a poll tick whose claims are still in flight
// admit past max_concurrent_tasks on the next tick.
func (d *Dispatcher) spawn(task model.AgentTask) {
	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	d.inFlight[task.ID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.execute(task, cancel)
	}()
}

func (d *Dispatcher) execute(task model.AgentTask, cancel chan struct{}) {
	ctx := context.Background()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, task.ID)
		d.mu.Unlock()
	}()

	claimed, ok, err := d.client.ClaimTask(ctx, task.ID)
	if err != nil {
		logging.Warn().
			Add(logging.Component("dispatcher")).
			Add(logging.TaskID(task.ID)).
			Add(logging.ErrField(err)).
			Msg("claim failed")
		return
	}
	if !ok {
		return // another agent claimed it first; no signals, no side effects
	}
	if claimed.Type != "" {
		task = claimed
	}

	d.sendSignal(model.Signal{
		Category:  "agent",
		Type:      model.SignalTaskStarted,
		Severity:  model.SeverityInfo,
		Timestamp: time.Now(),
		Payload:   mustMarshal(map[string]string{"task_id": task.ID, "task_type": string(task.Type)}),
	})

	h, found := d.registry.Lookup(task.Type)
	if !found {
		d.reportFailure(ctx, task, handler.ErrNoHandler{Type: task.Type}, true)
		return
	}

	hc := handler.Context{
		Config:          d.state.Config(),
		WorkspaceConfig: d.state.Workspace(),
		ControlPlane:    d.client,
		Cancelled:       cancel,
	}

	result, herr := h.Execute(ctx, task, hc)

	cancelled := false
	select {
	case <-cancel:
		cancelled = true
	default:
	}

	switch {
	case cancelled:
		d.reportFailure(ctx, task, errTaskCancelled, false)
	case herr != nil:
		d.reportFailure(ctx, task, herr, true)
	default:
		if err := d.client.CompleteTask(ctx, task.ID, result); err != nil {
			logging.Warn().
				Add(logging.Component("dispatcher")).
				Add(logging.TaskID(task.ID)).
				Add(logging.ErrField(err)).
				Msg("completeTask report failed")
		}
		d.sendSignal(model.Signal{
			Category:  "agent",
			Type:      model.SignalTaskCompleted,
			Severity:  model.SeverityInfo,
			Timestamp: time.Now(),
			Payload:   mustMarshal(map[string]string{"task_id": task.ID, "task_type": string(task.Type)}),
		})
	}
}

// errTaskCancelled is reported to failTask when a task's cancellation token
// was tripped by a shutdown racing its own completion.
var errTaskCancelled = errors.New("task cancelled during shutdown")

// stackTracer mirrors controlplane's optional error capability so the
// task_failed signal can carry a stack trace alongside the failTask report.
type stackTracer interface {
	StackTrace() string
}

func (d *Dispatcher) reportFailure(ctx context.Context, task model.AgentTask, cause error, retryable bool) {
	if err := d.client.FailTask(ctx, task.ID, cause, retryable); err != nil {
		logging.Warn().
			Add(logging.Component("dispatcher")).
			Add(logging.TaskID(task.ID)).
			Add(logging.ErrField(err)).
			Msg("failTask report failed")
	}

	payload := map[string]string{"task_id": task.ID, "task_type": string(task.Type)}
	if st, ok := cause.(stackTracer); ok {
		payload["stack"] = st.StackTrace()
	}

	d.sendSignal(model.Signal{
		Category:  "agent",
		Type:      model.SignalTaskFailed,
		Severity:  model.SeverityError,
		Message:   cause.Error(),
		Timestamp: time.Now(),
		Payload:   mustMarshal(payload),
	})
}

func (d *Dispatcher) sendSignal(s model.Signal) {
	if err := d.client.SendSignals(context.Background(), []model.Signal{s}); err != nil {
		logging.Debug().
			Add(logging.Component("dispatcher")).
			Add(logging.ErrField(err)).
			Msg("signal delivery failed")
	}
}

// BeginShutdown marks the dispatcher as shutting down (no further tasks are
// claimed from already-polled batches) and trips every in-flight task's
// cancellation token.
func (d *Dispatcher) BeginShutdown() {
	d.mu.Lock()
	d.shuttingDown = true
	tokens := make([]chan struct{}, 0, len(d.inFlight))
	for _, c := range d.inFlight {
		tokens = append(tokens, c)
	}
	d.mu.Unlock()

	for _, c := range tokens {
		close(c)
	}
}

// Drain waits until every in-flight task finishes or deadline elapses,
// whichever comes first. It returns the ids still in flight when it gave up
// (empty if everything drained in time).
func (d *Dispatcher) Drain(deadline time.Duration) (abandoned []string, drained bool) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil, true
	case <-time.After(deadline):
		d.mu.Lock()
		defer d.mu.Unlock()
		ids := make([]string, 0, len(d.inFlight))
		for id := range d.inFlight {
			ids = append(ids, id)
		}
		return ids, false
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
