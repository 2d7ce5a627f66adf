// Package scheduler wakes up when the earliest pending occurrence is
// due and dispatches all due work. One timer covers every schedule;
// persisted next-run times are the source of truth and the timer is
// merely a wake-up call.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// maxTimerDelay clamps very far wake-ups so the delay never overflows
// a signed 32-bit millisecond count. A clamped timer fires early, finds
// nothing due and rearms, which is harmless.
const maxTimerDelay = time.Duration(math.MaxInt32) * time.Millisecond

// errRetryDelay is the fallback wake-up after a failed earliest query.
const errRetryDelay = 30 * time.Second

// EarliestFunc returns the earliest pending occurrence across all
// schedulable entities, or nil when nothing is pending.
type EarliestFunc func(ctx context.Context) (*time.Time, error)

// DispatchFunc claims and processes everything currently due.
type DispatchFunc func(ctx context.Context) error

// TimerLoop maintains the single outstanding timer. Rearm is safe to
// call from any goroutine; the loop also rearms itself after every
// fire, even when dispatch fails or panics.
type TimerLoop struct {
	logger   *slog.Logger
	earliest EarliestFunc
	dispatch DispatchFunc
	now      func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	timer    *time.Timer
	nextWake *time.Time
	started  bool
	stopped  bool
}

func NewTimerLoop(logger *slog.Logger, earliest EarliestFunc, dispatch DispatchFunc) *TimerLoop {
	return &TimerLoop{
		logger:   logger.With("module", "timer_loop"),
		earliest: earliest,
		dispatch: dispatch,
		now:      time.Now,
	}
}

// Start performs the initial rearm. The context bounds all dispatch
// work triggered by timer fires.
func (l *TimerLoop) Start(ctx context.Context) {
	l.mu.Lock()
	l.ctx = ctx
	l.started = true
	l.mu.Unlock()

	l.Rearm()
}

// Rearm recomputes the earliest pending occurrence and resets the
// timer. Callers invoke it after any mutation that can change the
// earliest next run.
func (l *TimerLoop) Rearm() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started || l.stopped {
		return
	}

	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	l.nextWake = nil

	next, err := l.earliest(l.ctx)
	if err != nil {
		l.logger.Error("Failed to compute earliest next run, retrying later",
			"retry_in", errRetryDelay, "error", err)

		wake := l.now().Add(errRetryDelay)
		l.nextWake = &wake
		l.timer = time.AfterFunc(errRetryDelay, l.fire)

		return
	}

	if next == nil {
		l.logger.Debug("Nothing pending, timer idle")

		return
	}

	delay := next.Sub(l.now())
	if delay < 0 {
		delay = 0
	}

	if delay > maxTimerDelay {
		delay = maxTimerDelay
	}

	wake := l.now().Add(delay)
	l.nextWake = &wake
	l.timer = time.AfterFunc(delay, l.fire)

	l.logger.Debug("Timer armed", "next_run_at", next, "delay", delay)
}

// NextWake returns the advisory wake-up time of the armed timer, nil
// when the timer is idle.
func (l *TimerLoop) NextWake() *time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.nextWake == nil {
		return nil
	}

	wake := *l.nextWake

	return &wake
}

// Stop cancels the outstanding timer. A stopped loop ignores Rearm.
func (l *TimerLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	l.nextWake = nil

	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *TimerLoop) fire() {
	l.mu.Lock()
	ctx := l.ctx
	stopped := l.stopped
	l.mu.Unlock()

	if stopped || ctx.Err() != nil {
		return
	}

	defer l.Rearm()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Dispatch panicked", "panic", r)
		}
	}()

	if err := l.dispatch(ctx); err != nil {
		l.logger.Error("Dispatch failed", "error", err)
	}
}
