// Package worker runs the deadline scanner that fires time-driven booking
// transitions as the system actor.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/monitoring"
	"github.com/riteshkumar/booking-escrow/internal/repository"
)

// Transitioner is the state machine entry point the timer drives.
type Transitioner interface {
	Transition(ctx context.Context, bookingID string, actor models.Actor, action models.Action) (*models.Booking, error)
}

// RunStats summarizes one scan. Deferred counts due bookings left alone
// because they failed recently and are waiting out their retry delay.
type RunStats struct {
	Fired    int
	Skipped  int
	Failed   int
	Deferred int
}

// Timer scans for due deadlines on every tick. Deadlines live on the booking
// rows, so a restart loses nothing. The only in-memory state is the retry
// delay of bookings whose transition failed, which keeps one broken row from
// taking a batch slot on every tick.
type Timer struct {
	bookings     repository.BookingRepository
	transitioner Transitioner
	interval     time.Duration
	batchSize    int
	retryDelay   time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	scanMu  sync.Mutex
	retryAt map[string]time.Time
}

func NewTimer(bookings repository.BookingRepository, transitioner Transitioner, interval time.Duration, batchSize int, logger *slog.Logger) *Timer {
	return &Timer{
		bookings:     bookings,
		transitioner: transitioner,
		interval:     interval,
		batchSize:    batchSize,
		retryDelay:   5 * interval,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		retryAt:      map[string]time.Time{},
	}
}

// WithClock replaces the wall clock used to pick due bookings.
func (t *Timer) WithClock(now func() time.Time) *Timer {
	t.now = now
	return t
}

// WithRetryDelay sets how long a booking whose transition failed is left out
// of later scans. It defaults to five intervals.
func (t *Timer) WithRetryDelay(d time.Duration) *Timer {
	t.retryDelay = d
	return t
}

// Start launches the scan loop. Calling Start twice is a no-op.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.loop(ctx, t.done)
	t.logger.Info("deadline timer started", "interval", t.interval.String(), "batch_size", t.batchSize)
}

// Stop ends the loop and waits for an in-flight scan to finish.
func (t *Timer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.logger.Info("deadline timer stopped")
}

func (t *Timer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scan: overdue confirmations are auto-completed,
// then expired check-in windows are resolved. At most batchSize bookings are
// attempted per action; bookings in their retry delay do not count.
func (t *Timer) RunOnce(ctx context.Context) RunStats {
	started := time.Now()
	defer func() {
		monitoring.ObserveTimerScan(time.Since(started).Seconds())
	}()

	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	now := t.now()
	var stats RunStats
	t.pruneRetries(now)

	// over-fetch so deferred bookings cannot fill the batch
	awaiting, err := t.bookings.ListAwaitingPastDeadline(ctx, now, t.batchSize+len(t.retryAt))
	if err != nil {
		t.logger.Error("failed to list overdue confirmations", "error", err.Error())
	}
	t.fire(ctx, now, awaiting, models.ActionAutoComplete, &stats)

	expired, err := t.bookings.ListCheckInExpired(ctx, now, t.batchSize+len(t.retryAt))
	if err != nil {
		t.logger.Error("failed to list expired check-ins", "error", err.Error())
	}
	t.fire(ctx, now, expired, models.ActionExpireCheckIn, &stats)

	if stats.Fired+stats.Skipped+stats.Failed+stats.Deferred > 0 {
		t.logger.Info("deadline scan finished",
			"fired", stats.Fired,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
			"deferred", stats.Deferred,
		)
	}
	return stats
}

func (t *Timer) pruneRetries(now time.Time) {
	for id, at := range t.retryAt {
		if !now.Before(at) {
			delete(t.retryAt, id)
		}
	}
}

func (t *Timer) fire(ctx context.Context, now time.Time, ids []string, action models.Action, stats *RunStats) {
	attempted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, waiting := t.retryAt[id]; waiting {
			stats.Deferred++
			continue
		}
		if attempted == t.batchSize {
			return
		}
		attempted++

		_, err := t.transitioner.Transition(ctx, id, models.SystemActor(), action)
		monitoring.TrackTimerTransition(string(action), string(errors.KindOf(err)))

		switch {
		case err == nil:
			stats.Fired++
		case errors.IsStaleState(err) || errors.IsTransitionError(err):
			// a user transition got there first
			stats.Skipped++
			t.logger.Debug("deadline transition skipped",
				"booking_id", id,
				"action", action,
				"reason", err.Error(),
			)
		default:
			stats.Failed++
			t.retryAt[id] = now.Add(t.retryDelay)
			t.logger.Error("deadline transition failed",
				"booking_id", id,
				"action", action,
				"retry_at", t.retryAt[id],
				"error", err.Error(),
			)
		}
	}
}
