package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRearmIdleWhenNothingPending(t *testing.T) {
	loop := NewTimerLoop(slog.Default(),
		func(context.Context) (*time.Time, error) { return nil, nil },
		func(context.Context) error { return nil },
	)
	defer loop.Stop()

	loop.Start(context.Background())

	assert.Nil(t, loop.NextWake())
}

func TestRearmClampsFarFutureDelay(t *testing.T) {
	far := time.Now().Add(200 * 365 * 24 * time.Hour)

	loop := NewTimerLoop(slog.Default(),
		func(context.Context) (*time.Time, error) { return &far, nil },
		func(context.Context) error { return nil },
	)
	defer loop.Stop()

	before := time.Now()
	loop.Start(context.Background())

	wake := loop.NextWake()
	require.NotNil(t, wake)

	// The clamped wake-up lands around now+maxTimerDelay (~24.8 days),
	// far earlier than the actual occurrence.
	assert.True(t, wake.Before(before.Add(maxTimerDelay+time.Minute)))
	assert.True(t, wake.After(before.Add(maxTimerDelay-time.Minute)))
}

func TestFireDispatchesAndRearms(t *testing.T) {
	var fires atomic.Int32

	next := time.Now().Add(5 * time.Millisecond)

	loop := NewTimerLoop(slog.Default(),
		func(context.Context) (*time.Time, error) {
			if fires.Load() >= 2 {
				return nil, nil
			}

			n := next
			next = time.Now().Add(5 * time.Millisecond)

			return &n, nil
		},
		func(context.Context) error {
			fires.Add(1)

			return nil
		},
	)
	defer loop.Stop()

	loop.Start(context.Background())

	assert.Eventually(t, func() bool { return fires.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestFireRearmsAfterDispatchPanic(t *testing.T) {
	var calls atomic.Int32

	loop := NewTimerLoop(slog.Default(),
		func(context.Context) (*time.Time, error) {
			if calls.Load() >= 2 {
				return nil, nil
			}

			n := time.Now().Add(time.Millisecond)

			return &n, nil
		},
		func(context.Context) error {
			if calls.Add(1) == 1 {
				panic("dispatch blew up")
			}

			return nil
		},
	)
	defer loop.Stop()

	loop.Start(context.Background())

	// The panicking first dispatch must not kill the loop.
	assert.Eventually(t, func() bool { return calls.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestStopIgnoresLateRearm(t *testing.T) {
	loop := NewTimerLoop(slog.Default(),
		func(context.Context) (*time.Time, error) {
			n := time.Now().Add(time.Hour)

			return &n, nil
		},
		func(context.Context) error { return nil },
	)

	loop.Start(context.Background())
	loop.Stop()
	loop.Rearm()

	assert.Nil(t, loop.NextWake())
}
