package scheduler

import (
	"context"
	"time"

	"github.com/adno-labs/agent-runtime/internal/controlplane"
	"github.com/adno-labs/agent-runtime/internal/model"
)

// Manager owns at most one Scheduler per scheduled worker type and applies
// the start/stop/restart reconciliation rules whenever a new configuration
// arrives. At any instant it holds at most one active interval per
// worker-type tag.
type Manager struct {
	client      *controlplane.Client
	schedulers  map[model.WorkerType]*Scheduler
	scheduledTy []model.WorkerType
}

// NewManager builds a Manager that creates one Scheduler per scheduled
// worker type, all initially stopped.
func NewManager(client *controlplane.Client) *Manager {
	scheduled := []model.WorkerType{model.WorkerFetcher, model.WorkerLogger, model.WorkerMaintain}
	m := &Manager{
		client:      client,
		schedulers:  make(map[model.WorkerType]*Scheduler, len(scheduled)),
		scheduledTy: scheduled,
	}
	for _, t := range scheduled {
		m.schedulers[t] = New(t, client)
	}
	return m
}

// Reconcile applies cfg's worker settings to every scheduled worker type:
//   - enabled transitioned false→true: start with the configured interval.
//   - enabled transitioned true→false: stop.
//   - enabled stayed true but the interval changed: stop then start with the
//     new interval.
//   - enabled stayed false: no-op.
func (m *Manager) Reconcile(ctx context.Context, cfg model.AgentConfig) {
	for _, t := range m.scheduledTy {
		s := m.schedulers[t]
		settings, present := cfg.Worker(t)
		enabled := present && settings.Enabled
		interval := time.Duration(settings.ScheduleIntervalMS) * time.Millisecond

		wasRunning := s.Running()
		switch {
		case enabled && !wasRunning:
			s.Start(ctx, interval)
		case !enabled && wasRunning:
			s.Stop()
		case enabled && wasRunning && s.Interval() != interval:
			s.Stop()
			s.Start(ctx, interval)
		}
	}
}

// StopAll stops every scheduler, used during graceful shutdown.
func (m *Manager) StopAll() {
	for _, s := range m.schedulers {
		s.Stop()
	}
}

// Scheduler returns the Scheduler instance for a worker type, or nil if
// that type is not scheduled.
func (m *Manager) Scheduler(t model.WorkerType) *Scheduler {
	return m.schedulers[t]
}
