// Package schedule computes occurrence timestamps for schedule specifications.
// Evaluation is a pure function of (schedule, reference time) and never
// consults mutable global state, so callers can replay it deterministically.
package schedule

import (
	"time"

	"github.com/kronion-io/kronion/pkg/models"
)

// Next returns the first occurrence strictly after from, or false when the
// schedule is exhausted or its cron expression no longer parses. Callers must
// treat false as "never fires again", not as an error to crash on.
func Next(s models.Schedule, from time.Time) (time.Time, bool) {
	switch s.Kind {
	case models.ScheduleKindAt:
		if s.At == nil || !s.At.Timestamp.After(from) {
			return time.Time{}, false
		}

		return s.At.Timestamp, true

	case models.ScheduleKindEvery:
		if s.Every == nil || s.Every.IntervalMS <= 0 {
			return time.Time{}, false
		}

		return nextOnGrid(s.Every, from), true

	case models.ScheduleKindCron:
		if s.Cron == nil {
			return time.Time{}, false
		}

		return nextCron(s.Cron, from)
	}

	return time.Time{}, false
}

// Between enumerates every occurrence in the closed interval [from, to],
// used for backfill. Cron enumeration stops as soon as a computed occurrence
// passes to, so an always-matching expression still terminates.
func Between(s models.Schedule, from, to time.Time) []time.Time {
	if to.Before(from) {
		return nil
	}

	var out []time.Time

	// Step back one instant so an occurrence exactly at from is included.
	cursor := from.Add(-time.Millisecond)

	for {
		next, ok := Next(s, cursor)
		if !ok || next.After(to) {
			return out
		}

		out = append(out, next)
		cursor = next
	}
}

// nextOnGrid lands on startAt + k*interval for the smallest k with a strictly
// future result. A from before startAt clamps elapsed to zero, which yields
// the first grid point after startAt.
func nextOnGrid(e *models.EverySchedule, from time.Time) time.Time {
	interval := e.Interval()

	startAt := from
	if e.StartAt != nil {
		startAt = *e.StartAt
	}

	elapsed := from.Sub(startAt)
	if elapsed < 0 {
		elapsed = 0
	}

	k := int64(elapsed/interval) + 1

	return startAt.Add(time.Duration(k) * interval)
}

func nextCron(c *models.CronSchedule, from time.Time) (time.Time, bool) {
	spec, err := models.CronParser.Parse(c.Expression)
	if err != nil {
		return time.Time{}, false
	}

	loc := time.UTC

	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return time.Time{}, false
		}

		loc = l
	}

	next := spec.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, false
	}

	return next, true
}
