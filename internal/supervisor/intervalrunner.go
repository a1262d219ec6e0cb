package supervisor

import (
	"context"
	"sync"
	"time"
)

// intervalRunner runs fire once immediately on Start and then every
// interval, until Stop. Restart swaps in a new interval and fires one
// immediate tick on the new schedule.
//
// Restart is called both from outside the loop (e.g. Shutdown racing a
// config change) and, routinely, from inside fire itself: firePoll calls
// increasePollBackoff and applyConfigLocked, both of which call
// s.poll.Restart on the very goroutine currently running firePoll. Restart
// therefore never stops-and-rejoins the loop goroutine (that would deadlock
// waiting for itself); it only ever hands the loop a pending interval over a
// channel and lets the loop reset its own ticker at its next select.
type intervalRunner struct {
	fire func(ctx context.Context)

	mu              sync.Mutex
	running         bool
	interval        time.Duration
	pendingInterval time.Duration
	pendingReset    bool
	notifyCh        chan struct{}
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

func newIntervalRunner(fire func(ctx context.Context)) *intervalRunner {
	return &intervalRunner{fire: fire}
}

func (r *intervalRunner) Start(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.interval = interval
	r.pendingReset = false
	r.stopCh = make(chan struct{})
	r.notifyCh = make(chan struct{}, 1)
	r.running = true
	stopCh, notifyCh := r.stopCh, r.notifyCh
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx, interval, stopCh, notifyCh)
}

func (r *intervalRunner) loop(ctx context.Context, interval time.Duration, stopCh chan struct{}, notifyCh chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.fire(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-notifyCh:
			next, ok := r.takePendingInterval()
			if !ok {
				continue
			}
			ticker.Stop()
			ticker = time.NewTicker(next)
			r.fire(ctx)
		case <-ticker.C:
			r.fire(ctx)
		}
	}
}

func (r *intervalRunner) takePendingInterval() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pendingReset {
		return 0, false
	}
	r.pendingReset = false
	r.interval = r.pendingInterval
	return r.pendingInterval, true
}

func (r *intervalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh := r.stopCh
	r.mu.Unlock()

	close(stopCh)
	r.wg.Wait()
}

// Restart swaps in a new interval and fires one immediate tick on the new
// schedule. Safe to call from within the runner's own fire callback — it
// never blocks on or waits for the loop goroutine, only posts the new
// interval for the loop to pick up at its next select iteration. If the
// runner isn't running, it behaves like Start.
func (r *intervalRunner) Restart(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.Start(ctx, interval)
		return
	}
	r.pendingInterval = interval
	r.pendingReset = true
	notifyCh := r.notifyCh
	r.mu.Unlock()

	select {
	case notifyCh <- struct{}{}:
	default:
	}
}

func (r *intervalRunner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}
