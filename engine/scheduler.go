package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Releaser performs the expiry-time release for one task. It must be safe to
// call for a task that already left pending_release; the implementation
// re-checks the status under lock and reports ErrTaskNotPendingRelease or
// ErrTaskAlreadyReleased, which the scheduler treats as a race won by the
// user, not a failure.
type Releaser interface {
	AutoRelease(ctx context.Context, taskID string) error
	// RetryLedger re-submits a recorded ledger command that earlier
	// exhausted its attempts.
	RetryLedger(ctx context.Context, taskID string) error
}

// DueSource lists tasks whose durable due-at passed, and tasks still owing a
// ledger command.
type DueSource interface {
	DuePendingRelease(ctx context.Context, now time.Time, limit int) ([]string, error)
	PendingLedgerSubmissions(ctx context.Context, limit int) ([]string, error)
}

// Scheduler owns the countdown for tasks in pending_release. The durable
// record is the pending_release_expires_at column; the periodic sweep is what
// survives restarts. In-process timers armed per task only make firing prompt
// between sweeps.
type Scheduler struct {
	releaser Releaser
	due      DueSource
	interval time.Duration
	batch    int

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler(releaser Releaser, due DueSource, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		releaser: releaser,
		due:      due,
		interval: interval,
		batch:    200,
		timers:   make(map[string]*time.Timer),
	}
}

// Arm schedules a prompt in-process fire at expiresAt. Re-arming replaces the
// previous timer.
func (s *Scheduler) Arm(taskID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[taskID]; ok {
		old.Stop()
	}
	d := time.Until(expiresAt)
	if d < 0 {
		d = 0
	}
	s.timers[taskID] = time.AfterFunc(d, func() {
		s.fire(context.Background(), taskID)
	})
}

// Cancel drops the in-process timer. Safe to call when the timer already
// fired and its callback is in flight: the releaser's own re-check makes a
// late fire harmless.
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[taskID]; ok {
		t.Stop()
		delete(s.timers, taskID)
	}
}

// Run sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Printf("[scheduler] sweep: %v", err)
			}
		}
	}
}

// SweepOnce fires every elapsed countdown once, then re-submits outstanding
// ledger commands. Returns how many releases were effective.
func (s *Scheduler) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.due.DuePendingRelease(ctx, time.Now(), s.batch)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, id := range ids {
		if s.fire(ctx, id) {
			fired++
		}
	}

	// Tasks whose status committed but whose ledger command never got
	// through. The gateway dedups on the stored ref.
	pending, err := s.due.PendingLedgerSubmissions(ctx, s.batch)
	if err != nil {
		return fired, err
	}
	for _, id := range pending {
		if err := s.releaser.RetryLedger(ctx, id); err != nil {
			log.Printf("[scheduler] ledger retry for task %s: %v", id, err)
		}
	}
	return fired, nil
}

// fire reports whether the release was effective. Losing the race against a
// manual release or dispute is the expected outcome, not an error.
func (s *Scheduler) fire(ctx context.Context, taskID string) bool {
	s.mu.Lock()
	delete(s.timers, taskID)
	s.mu.Unlock()

	err := s.releaser.AutoRelease(ctx, taskID)
	switch {
	case err == nil:
		log.Printf("[scheduler] auto-released task %s", taskID)
		return true
	case errors.Is(err, ErrTaskNotPendingRelease), errors.Is(err, ErrTaskAlreadyReleased):
		return false
	default:
		// Ledger retries are exhausted inside the releaser; escalate.
		log.Printf("[scheduler] auto-release task %s failed: %v", taskID, err)
		return false
	}
}
