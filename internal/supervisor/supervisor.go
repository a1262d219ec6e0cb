// Package supervisor implements the runtime's top-level lifecycle: startup
// sequencing, configuration application and interval reconciliation, the
// heartbeat loop, task-poll backoff coordination, and graceful shutdown.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/adno-labs/agent-runtime/internal/buildinfo"
	"github.com/adno-labs/agent-runtime/internal/configstore"
	"github.com/adno-labs/agent-runtime/internal/controlplane"
	"github.com/adno-labs/agent-runtime/internal/dispatcher"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/logging"
	"github.com/adno-labs/agent-runtime/internal/model"
	"github.com/adno-labs/agent-runtime/internal/runtimestate"
	"github.com/adno-labs/agent-runtime/internal/scheduler"
)

// pollBackoffCeiling bounds how far the task-poll interval backs off after
// repeated poll failures.
const pollBackoffCeiling = time.Hour

// ShutdownDrain is the deadline the supervisor waits for in-flight tasks to
// finish before giving up and emitting agent_stopping anyway.
const ShutdownDrain = 30 * time.Second

// Supervisor owns the runtime's lifecycle.
type Supervisor struct {
	client      *controlplane.Client
	state       *runtimestate.State
	versions    *configstore.Store
	dispatcher  *dispatcher.Dispatcher
	schedulers  *scheduler.Manager

	heartbeat *intervalRunner
	poll      *intervalRunner

	applyMu sync.Mutex // serializes applyConfig against re-entrant piggyback updates

	mu                      sync.Mutex
	basePollIntervalMS      int
	currentPollIntervalMS   int
	consecutivePollFailures int
	shuttingDown            bool
	startedAt               time.Time
}

// New builds a Supervisor. basePollIntervalMS seeds the initial task-poll
// interval before any server configuration has been applied.
func New(client *controlplane.Client, registry *handler.Registry, basePollIntervalMS int) *Supervisor {
	state := runtimestate.New()
	versions := configstore.New()
	s := &Supervisor{
		client:             client,
		state:              state,
		versions:           versions,
		schedulers:         scheduler.NewManager(client),
		basePollIntervalMS: basePollIntervalMS,
	}
	s.dispatcher = dispatcher.New(client, registry, state, versions, s)
	s.heartbeat = newIntervalRunner(s.fireHeartbeat)
	s.poll = newIntervalRunner(s.firePoll)
	return s
}

// Start runs the fixed startup sequence: authenticate, load workspace
// config, load and apply initial agent config, announce agent_starting,
// then begin the heartbeat loop, task-poll loop, and worker schedulers. A
// failure in authentication or workspace-config loading is fatal and
// returned to the caller for a nonzero process exit; the caller must not
// retry authentication at runtime.
func (s *Supervisor) Start(ctx context.Context) error {
	version, err := s.client.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	s.versions.Set(version)

	ws, err := s.client.GetWorkspaceConfig(ctx)
	if err != nil {
		return fmt.Errorf("load workspace config: %w", err)
	}
	s.state.SetWorkspace(ws)

	cfg, err := s.client.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("load agent config: %w", err)
	}
	s.applyConfigLocked(ctx, cfg, true)

	s.startedAt = time.Now()
	s.sendSignal(model.NewLifecycleSignal(model.SignalAgentStarting, map[string]string{"version": cfg.Version}))

	s.heartbeat.Start(ctx, time.Duration(cfg.HeartbeatIntervalMS)*time.Millisecond)
	s.poll.Start(ctx, s.pollInterval())
	s.schedulers.Reconcile(ctx, cfg)

	return nil
}

// ApplyConfig implements dispatcher.ConfigApplier: it is invoked whenever a
// poll response piggybacks a new configuration. It is safe to call
// concurrently with itself; calls are serialized so a second update arriving
// while the first is still reconciling schedulers waits its turn rather than
// interleaving.
func (s *Supervisor) ApplyConfig(ctx context.Context, cfg model.AgentConfig) {
	s.applyConfigLocked(ctx, cfg, false)
}

func (s *Supervisor) applyConfigLocked(ctx context.Context, cfg model.AgentConfig, initial bool) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	previous := s.state.Config()
	s.state.SetConfig(cfg)

	if cfg.VersionInfo != nil {
		logVersionAdvisory(*cfg.VersionInfo)
	}

	if logger, ok := cfg.Worker(model.WorkerLogger); ok && logger.LogLevel != nil {
		logging.SetLevel(*logger.LogLevel)
	}

	if initial {
		s.mu.Lock()
		s.basePollIntervalMS = cfg.TaskPollIntervalMS
		s.currentPollIntervalMS = cfg.TaskPollIntervalMS
		s.mu.Unlock()
		return
	}

	if cfg.HeartbeatIntervalMS != previous.HeartbeatIntervalMS {
		s.heartbeat.Restart(ctx, time.Duration(cfg.HeartbeatIntervalMS)*time.Millisecond)
	}
	if cfg.TaskPollIntervalMS != previous.TaskPollIntervalMS {
		s.mu.Lock()
		s.basePollIntervalMS = cfg.TaskPollIntervalMS
		s.consecutivePollFailures = 0
		s.currentPollIntervalMS = cfg.TaskPollIntervalMS
		s.mu.Unlock()
		s.poll.Restart(ctx, time.Duration(cfg.TaskPollIntervalMS)*time.Millisecond)
	}
	// max_concurrent_tasks is read fresh from state by the dispatcher at
	// every admission decision; in-flight tasks are never cancelled by a
	// cap change.

	s.schedulers.Reconcile(ctx, cfg)
}

// logVersionAdvisory compares the running binary's version against the
// control plane's recommendation and logs when they differ: a warning
// normally, an error when the control plane marks the update required. It
// never refuses to run on a mismatch.
func logVersionAdvisory(v model.VersionInfo) {
	if v.RecommendedVersion == "" || v.RecommendedVersion == buildinfo.Version {
		return
	}
	event := logging.Warn
	if v.Required {
		event = logging.Error
	}
	event().
		Add(logging.Component("supervisor")).
		Add(logging.Str("running_version", buildinfo.Version)).
		Add(logging.Str("recommended_version", v.RecommendedVersion)).
		Add(logging.Bool("required", v.Required)).
		Msg("running version differs from control plane's recommendation")
}

func (s *Supervisor) firePoll(ctx context.Context) {
	ok := s.dispatcher.Tick(ctx)
	if ok {
		s.resetPollBackoff(ctx)
		return
	}
	s.increasePollBackoff(ctx)
}

// increasePollBackoff doubles the task-poll interval, capped at
// pollBackoffCeiling, and restarts the poll timer with the new value. A
// bounded jitter of up to +10% is added so agents that lost contact with the
// control plane at the same time don't all reconnect in lockstep; the
// jittered value never drops below the un-jittered delay nor exceeds the
// ceiling.
func (s *Supervisor) increasePollBackoff(ctx context.Context) {
	s.mu.Lock()
	s.consecutivePollFailures++
	base := time.Duration(s.basePollIntervalMS) * time.Millisecond
	next := base * time.Duration(1<<uint(min(s.consecutivePollFailures, 32)))
	if next > pollBackoffCeiling || next <= 0 {
		next = pollBackoffCeiling
	}
	next = addJitter(next)
	s.currentPollIntervalMS = int(next.Milliseconds())
	s.mu.Unlock()

	s.poll.Restart(ctx, next)
}

// addJitter adds up to 10% extra delay on top of d, never exceeding
// pollBackoffCeiling.
func addJitter(d time.Duration) time.Duration {
	jittered := d + time.Duration(rand.Float64()*0.1*float64(d))
	if jittered > pollBackoffCeiling {
		return pollBackoffCeiling
	}
	return jittered
}

// resetPollBackoff restores the base task-poll interval after a successful
// tick (including an at-capacity no-op tick).
func (s *Supervisor) resetPollBackoff(ctx context.Context) {
	s.mu.Lock()
	hadFailures := s.consecutivePollFailures > 0
	s.consecutivePollFailures = 0
	base := time.Duration(s.basePollIntervalMS) * time.Millisecond
	s.currentPollIntervalMS = s.basePollIntervalMS
	s.mu.Unlock()

	if hadFailures {
		s.poll.Restart(ctx, base)
	}
}

func (s *Supervisor) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentPollIntervalMS <= 0 {
		s.currentPollIntervalMS = s.basePollIntervalMS
	}
	return time.Duration(s.currentPollIntervalMS) * time.Millisecond
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// fireHeartbeat sends one heartbeat signal carrying liveness and load
// information. Failures are logged and otherwise ignored; a missed
// heartbeat is not fatal.
func (s *Supervisor) fireHeartbeat(ctx context.Context) {
	cfg := s.state.Config()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	payload, _ := json.Marshal(map[string]any{
		"version":        cfg.Version,
		"in_flight":      s.dispatcher.InFlightCount(),
		"max_concurrent": cfg.MaxConcurrentTasks,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"memory": map[string]uint64{
			"alloc_bytes":       mem.Alloc,
			"heap_in_use_bytes": mem.HeapInuse,
			"sys_bytes":         mem.Sys,
		},
	})

	s.sendSignal(model.Signal{
		Category:  "agent",
		Type:      model.SignalHeartbeat,
		Severity:  model.SeverityInfo,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func (s *Supervisor) sendSignal(sig model.Signal) {
	if err := s.client.SendSignals(context.Background(), []model.Signal{sig}); err != nil {
		logging.Warn().
			Add(logging.Component("supervisor")).
			Add(logging.Str("signal_type", string(sig.Type))).
			Add(logging.ErrField(err)).
			Msg("signal delivery failed")
	}
}

// Shutdown is idempotent: it stops every timer, trips in-flight
// cancellation tokens, waits up to ShutdownDrain for tasks to finish, and
// sends a final agent_stopping signal regardless of whether the drain
// completed.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	s.mu.Unlock()

	s.heartbeat.Stop()
	s.poll.Stop()
	s.schedulers.StopAll()

	s.dispatcher.BeginShutdown()
	abandoned, drained := s.dispatcher.Drain(ShutdownDrain)

	if !drained {
		logging.Warn().
			Add(logging.Component("supervisor")).
			Add(logging.Int("abandoned_count", len(abandoned))).
			Msg("shutdown deadline elapsed with tasks still in flight")
	}

	s.sendSignal(model.Signal{
		Category:  "agent",
		Type:      model.SignalAgentStopping,
		Severity:  model.SeverityInfo,
		Payload:   mustMarshal(map[string]int{"in_flight": len(abandoned)}),
		Timestamp: time.Now(),
	})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
