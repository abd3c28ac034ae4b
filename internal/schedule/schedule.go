// Package schedule computes when a sync profile is next eligible to run.
// Everything here is pure: no I/O and no mutation of the inputs.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"shopsync/internal/models"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Normalize trims the schedule and clears every parameter group that does not
// belong to its mode.
func Normalize(s models.Schedule) models.Schedule {
	out := models.Schedule{
		Mode:     models.FetchMode(strings.ToLower(strings.TrimSpace(string(s.Mode)))),
		Timezone: strings.TrimSpace(s.Timezone),
	}
	if out.Mode == "" {
		out.Mode = models.FetchModeManual
	}
	switch out.Mode {
	case models.FetchModeInterval:
		out.IntervalMinutes = s.IntervalMinutes
		out.Timezone = ""
	case models.FetchModeDaily:
		if s.DailyTime != nil {
			v := strings.TrimSpace(*s.DailyTime)
			out.DailyTime = &v
		}
	case models.FetchModeCron:
		if s.CronExpression != nil {
			v := strings.TrimSpace(*s.CronExpression)
			out.CronExpression = &v
		}
	default:
		out.Timezone = ""
	}
	return out
}

// Validate rejects schedules that could never produce a next run.
func Validate(s models.Schedule) error {
	switch s.Mode {
	case models.FetchModeManual:
		return nil
	case models.FetchModeInterval:
		if s.IntervalMinutes == nil {
			return invalid("interval_minutes is required for interval mode")
		}
		if *s.IntervalMinutes <= 0 {
			return invalid("interval_minutes must be positive")
		}
		return nil
	case models.FetchModeDaily:
		if s.DailyTime == nil || *s.DailyTime == "" {
			return invalid("daily_time is required for daily mode")
		}
		if _, _, err := parseTimeOfDay(*s.DailyTime); err != nil {
			return err
		}
		_, err := location(s.Timezone)
		return err
	case models.FetchModeCron:
		if s.CronExpression == nil || *s.CronExpression == "" {
			return invalid("cron_expression is required for cron mode")
		}
		if _, err := cron.ParseStandard(*s.CronExpression); err != nil {
			return invalid("cron_expression: %v", err)
		}
		_, err := location(s.Timezone)
		return err
	default:
		return invalid("unsupported fetch mode %q", s.Mode)
	}
}

// NextRun returns the next eligible run after now, or nil when the schedule
// never fires on its own.
func NextRun(s models.Schedule, now time.Time) (*time.Time, error) {
	switch s.Mode {
	case models.FetchModeManual, "":
		return nil, nil
	case models.FetchModeInterval:
		if s.IntervalMinutes == nil || *s.IntervalMinutes <= 0 {
			return nil, invalid("interval_minutes must be positive")
		}
		next := now.Add(time.Duration(*s.IntervalMinutes) * time.Minute).UTC()
		return &next, nil
	case models.FetchModeDaily:
		if s.DailyTime == nil {
			return nil, invalid("daily_time is required for daily mode")
		}
		hour, minute, err := parseTimeOfDay(*s.DailyTime)
		if err != nil {
			return nil, err
		}
		loc, err := location(s.Timezone)
		if err != nil {
			return nil, err
		}
		local := now.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
		}
		next = next.UTC()
		return &next, nil
	case models.FetchModeCron:
		if s.CronExpression == nil {
			return nil, invalid("cron_expression is required for cron mode")
		}
		sched, err := cron.ParseStandard(*s.CronExpression)
		if err != nil {
			return nil, invalid("cron_expression: %v", err)
		}
		loc, err := location(s.Timezone)
		if err != nil {
			return nil, err
		}
		next := sched.Next(now.In(loc))
		if next.IsZero() {
			return nil, nil
		}
		next = next.UTC()
		return &next, nil
	default:
		return nil, invalid("unsupported fetch mode %q", s.Mode)
	}
}

// ForProfile applies the active flag on top of NextRun: inactive profiles never
// auto-run regardless of mode.
func ForProfile(p models.SyncProfile, now time.Time) (*time.Time, error) {
	if !p.Active {
		return nil, nil
	}
	return NextRun(p.Schedule, now)
}

func parseTimeOfDay(raw string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, 0, invalid("daily_time %q must be HH:MM", raw)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, invalid("daily_time %q has an invalid hour", raw)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, invalid("daily_time %q has an invalid minute", raw)
	}
	return hour, minute, nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalid("unknown timezone %q", name)
	}
	return loc, nil
}
