package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/schedule"
)

func atSchedule(ts time.Time) models.Schedule {
	return models.Schedule{
		Kind: models.ScheduleKindAt,
		At:   &models.AtSchedule{Timestamp: ts},
	}
}

func everySchedule(interval time.Duration, startAt time.Time) models.Schedule {
	return models.Schedule{
		Kind: models.ScheduleKindEvery,
		Every: &models.EverySchedule{
			IntervalMS: interval.Milliseconds(),
			StartAt:    &startAt,
		},
	}
}

func cronSchedule(expr, tz string) models.Schedule {
	return models.Schedule{
		Kind: models.ScheduleKindCron,
		Cron: &models.CronSchedule{Expression: expr, Timezone: tz},
	}
}

func TestNextAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	t.Run("future timestamp fires once", func(t *testing.T) {
		next, ok := schedule.Next(atSchedule(future), now)
		require.True(t, ok)
		assert.Equal(t, future, next)
	})

	t.Run("past timestamp is exhausted", func(t *testing.T) {
		_, ok := schedule.Next(atSchedule(now.Add(-time.Minute)), now)
		assert.False(t, ok)
	})

	t.Run("exact timestamp is exhausted", func(t *testing.T) {
		_, ok := schedule.Next(atSchedule(now), now)
		assert.False(t, ok)
	})

	t.Run("idempotent across repeated calls", func(t *testing.T) {
		first, ok1 := schedule.Next(atSchedule(future), now)
		second, ok2 := schedule.Next(atSchedule(future), now)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, first, second)
	})
}

func TestNextEvery(t *testing.T) {
	startAt := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	interval := time.Hour

	t.Run("result is strictly future and on the grid", func(t *testing.T) {
		for _, offset := range []time.Duration{
			0, time.Millisecond, 30 * time.Minute, time.Hour, time.Hour + time.Millisecond, 47 * time.Hour,
		} {
			now := startAt.Add(offset)
			next, ok := schedule.Next(everySchedule(interval, startAt), now)
			require.True(t, ok)
			assert.True(t, next.After(now), "offset %s: %s not after %s", offset, next, now)
			assert.Zero(t, next.Sub(startAt)%interval, "offset %s: %s off grid", offset, next)
			// Smallest such timestamp: one step back is not strictly future.
			assert.False(t, next.Add(-interval).After(now), "offset %s: %s not minimal", offset, next)
		}
	})

	t.Run("now before startAt yields first grid point", func(t *testing.T) {
		now := startAt.Add(-24 * time.Hour)
		next, ok := schedule.Next(everySchedule(interval, startAt), now)
		require.True(t, ok)
		assert.Equal(t, startAt.Add(interval), next)
	})

	t.Run("monotonic across increasing now", func(t *testing.T) {
		prev := time.Time{}
		for offset := time.Duration(0); offset < 5*time.Hour; offset += 17 * time.Minute {
			next, ok := schedule.Next(everySchedule(interval, startAt), startAt.Add(offset))
			require.True(t, ok)
			assert.False(t, next.Before(prev))
			prev = next
		}
	})
}

func TestNextCron(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	t.Run("hourly on the hour", func(t *testing.T) {
		next, ok := schedule.Next(cronSchedule("0 * * * *", ""), now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("timezone aware", func(t *testing.T) {
		// 09:00 in New York is 13:00 UTC during DST.
		next, ok := schedule.Next(cronSchedule("0 9 * * *", "America/New_York"), now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("invalid expression never fires instead of failing", func(t *testing.T) {
		_, ok := schedule.Next(cronSchedule("not a cron", ""), now)
		assert.False(t, ok)
	})

	t.Run("invalid timezone never fires", func(t *testing.T) {
		_, ok := schedule.Next(cronSchedule("0 * * * *", "Mars/Olympus"), now)
		assert.False(t, ok)
	})
}

func TestBetween(t *testing.T) {
	startAt := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("interval occurrences in closed window", func(t *testing.T) {
		got := schedule.Between(everySchedule(time.Hour, startAt), startAt.Add(time.Hour), startAt.Add(3*time.Hour))
		require.Len(t, got, 3)
		assert.Equal(t, startAt.Add(time.Hour), got[0])
		assert.Equal(t, startAt.Add(2*time.Hour), got[1])
		assert.Equal(t, startAt.Add(3*time.Hour), got[2])
	})

	t.Run("cron enumeration terminates at window end", func(t *testing.T) {
		from := time.Date(2025, 6, 1, 0, 0, 30, 0, time.UTC)
		got := schedule.Between(cronSchedule("* * * * *", ""), from, from.Add(5*time.Minute))
		assert.Len(t, got, 5)
	})

	t.Run("one-shot inside window appears once", func(t *testing.T) {
		ts := startAt.Add(time.Hour)
		got := schedule.Between(atSchedule(ts), startAt, startAt.Add(2*time.Hour))
		require.Len(t, got, 1)
		assert.Equal(t, ts, got[0])
	})

	t.Run("inverted window is empty", func(t *testing.T) {
		assert.Empty(t, schedule.Between(everySchedule(time.Hour, startAt), startAt.Add(time.Hour), startAt))
	})
}
