// Package models defines the core domain models for scheduling and workflow orchestration.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind discriminates the closed set of schedule variants.
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"    // Fires once at a fixed timestamp
	ScheduleKindEvery ScheduleKind = "every" // Fires on a fixed interval grid
	ScheduleKindCron  ScheduleKind = "cron"  // Fires per cron expression
)

// Schedule is a tagged union describing when something should happen next.
// Exactly one of At, Every, Cron is set, selected by Kind.
type Schedule struct {
	Kind  ScheduleKind   `json:"kind"            validate:"required,oneof=at every cron"`
	At    *AtSchedule    `json:"at,omitempty"`
	Every *EverySchedule `json:"every,omitempty"`
	Cron  *CronSchedule  `json:"cron,omitempty"`
}

// AtSchedule fires once if its timestamp is still in the future, otherwise never again.
type AtSchedule struct {
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// EverySchedule fires at StartAt + k*Interval for the smallest k that lands
// strictly in the future. StartAt defaults to the owning entity's creation time.
type EverySchedule struct {
	IntervalMS int64      `json:"interval_ms" validate:"required,gt=0"`
	StartAt    *time.Time `json:"start_at,omitempty"`
}

// Interval returns the interval as a duration.
func (e *EverySchedule) Interval() time.Duration {
	return time.Duration(e.IntervalMS) * time.Millisecond
}

// CronSchedule fires at the next timestamp the expression matches,
// evaluated in the given IANA timezone (UTC when empty).
type CronSchedule struct {
	Expression string `json:"expression" validate:"required"`
	Timezone   string `json:"timezone,omitempty"`
}

var (
	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")
)

// CronParser is the shared 5-field parser (minute hour day month weekday)
// with descriptor support (@hourly, @every, ...).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that the variant selected by Kind is present and well formed.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleKindAt:
		if s.At == nil || s.At.Timestamp.IsZero() {
			return fmt.Errorf("%w: at schedule requires a timestamp", ErrInvalidSchedule)
		}
	case ScheduleKindEvery:
		if s.Every == nil || s.Every.IntervalMS <= 0 {
			return fmt.Errorf("%w: every schedule requires a positive interval", ErrInvalidSchedule)
		}
	case ScheduleKindCron:
		if s.Cron == nil || s.Cron.Expression == "" {
			return fmt.Errorf("%w: cron schedule requires an expression", ErrInvalidSchedule)
		}

		if s.Cron.Timezone != "" {
			if _, err := time.LoadLocation(s.Cron.Timezone); err != nil {
				return fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, s.Cron.Timezone)
			}
		}

		if _, err := CronParser.Parse(s.Cron.Expression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidSchedule, s.Kind)
	}

	return nil
}

// IsRecurring reports whether the schedule can fire more than once.
func (s Schedule) IsRecurring() bool {
	return s.Kind != ScheduleKindAt
}
