// Package cron runs named background jobs on interval or cron-expression
// schedules.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed job schedule: either a fixed interval or a cron
// expression.
type Schedule struct {
	Kind     string // "every" or "cron"
	Every    time.Duration
	CronExpr string
}

// ParseSchedule accepts a Go duration ("90s", "5m") or a cron expression
// ("*/5 * * * *", "@hourly", seconds field optional).
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	if every, err := time.ParseDuration(spec); err == nil {
		if every <= 0 {
			return Schedule{}, fmt.Errorf("schedule interval must be positive, got %s", spec)
		}
		return Schedule{Kind: "every", Every: every}, nil
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return Schedule{Kind: "cron", CronExpr: spec}, nil
}

// Next returns the next run time strictly after now.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	switch s.Kind {
	case "every":
		if s.Every <= 0 {
			return time.Time{}, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every), nil
	case "cron":
		parsed, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
		}
		return parsed.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// String renders the schedule the way it was configured.
func (s Schedule) String() string {
	if s.Kind == "every" {
		return s.Every.String()
	}
	return s.CronExpr
}
