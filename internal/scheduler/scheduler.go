// Package scheduler runs the per-worker-type periodic task creation loops.
// A scheduler never executes a task itself — it only asks the control plane
// to create one, on an interval, for worker types configured as scheduled
// (fetcher, logger, maintain).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/adno-labs/agent-runtime/internal/controlplane"
	"github.com/adno-labs/agent-runtime/internal/logging"
	"github.com/adno-labs/agent-runtime/internal/model"
)

// Scheduler runs one worker type's periodic createTask loop.
type Scheduler struct {
	workerType model.WorkerType
	interval   time.Duration
	client     *controlplane.Client

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New builds a Scheduler for one worker type. It does not start running
// until Start is called.
func New(workerType model.WorkerType, client *controlplane.Client) *Scheduler {
	return &Scheduler{workerType: workerType, client: client}
}

// Start begins firing createTask on the given interval, firing one
// immediately as well. Calling Start on an already-running Scheduler is a
// no-op; call Stop first to change the interval. A non-positive interval
// (a scheduled worker enabled with a missing or zero schedule_interval_ms)
// is rejected rather than handed to time.NewTicker, which panics on it; the
// scheduler stays stopped and logs the misconfiguration.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if interval <= 0 {
		logging.Error().
			Add(logging.Component("scheduler")).
			Add(logging.TaskType(string(s.workerType))).
			Msg("refusing to start scheduler with non-positive schedule interval")
		return
	}
	s.interval = interval
	s.stopCh = make(chan struct{})
	s.ticker = time.NewTicker(interval)
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx, s.ticker, s.stopCh)
}

func (s *Scheduler) loop(ctx context.Context, ticker *time.Ticker, stopCh chan struct{}) {
	defer s.wg.Done()
	s.fire(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	res, err := s.client.CreateTask(ctx, controlplane.CreateTaskRequest{
		Type:     s.workerType,
		Priority: 0,
	})
	if err != nil {
		logging.Error().
			Add(logging.Component("scheduler")).
			Add(logging.TaskType(string(s.workerType))).
			Add(logging.ErrField(err)).
			Msg("failed to create scheduled task")
		return
	}
	logging.Debug().
		Add(logging.Component("scheduler")).
		Add(logging.TaskType(string(s.workerType))).
		Add(logging.Str("task_id", res.TaskID)).
		Add(logging.Str("status", res.Status)).
		Msg("scheduled task create result")
}

// Stop halts the scheduler. An iteration already in flight is allowed to
// finish; its result is discarded. Stop blocks until the loop goroutine has
// exited. Calling Stop on an already-stopped Scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ticker := s.ticker
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	ticker.Stop()
	s.wg.Wait()
}

// Running reports whether the scheduler is currently active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the scheduler's current firing interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
