package engine

import (
	"fmt"
	"time"

	"github.com/dripline/dripline/pkg/schema"
)

// maxRollForwardDays bounds the business-hours search. A window that admits
// no slot within two weeks is treated as misconfigured.
const maxRollForwardDays = 14

// computeResumeAt returns now + the configured duration, rolled forward to
// the next business-hours slot when a window is configured. The result is UTC.
func computeResumeAt(now time.Time, cfg *schema.DelayConfig) (time.Time, error) {
	var d time.Duration
	switch cfg.Unit {
	case schema.DelayUnitSeconds:
		d = time.Duration(cfg.Duration) * time.Second
	case schema.DelayUnitMinutes:
		d = time.Duration(cfg.Duration) * time.Minute
	case schema.DelayUnitHours:
		d = time.Duration(cfg.Duration) * time.Hour
	case schema.DelayUnitDays:
		d = time.Duration(cfg.Duration) * 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("unknown delay unit %q", cfg.Unit)
	}

	target := now.Add(d)
	if cfg.BusinessHours == nil {
		return target.UTC(), nil
	}
	return rollForward(target, cfg.BusinessHours)
}

// rollForward moves target to the earliest instant at or after it that falls
// on an allowed weekday inside the [start, end) time-of-day window, evaluated
// in the window's timezone.
func rollForward(target time.Time, window *schema.BusinessHoursWindow) (time.Time, error) {
	loc, err := time.LoadLocation(window.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", window.Timezone, err)
	}

	startH, startM, err := parseClock(window.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("window start: %w", err)
	}
	endH, endM, err := parseClock(window.End)
	if err != nil {
		return time.Time{}, fmt.Errorf("window end: %w", err)
	}
	if startH*60+startM >= endH*60+endM {
		return time.Time{}, fmt.Errorf("window %s-%s is empty, start must be before end", window.Start, window.End)
	}

	allowed := make(map[time.Weekday]bool, len(window.Days))
	for _, day := range window.Days {
		allowed[time.Weekday(day)] = true
	}

	local := target.In(loc)
	for i := 0; i <= maxRollForwardDays; i++ {
		windowStart := time.Date(local.Year(), local.Month(), local.Day(), startH, startM, 0, 0, loc)
		windowEnd := time.Date(local.Year(), local.Month(), local.Day(), endH, endM, 0, 0, loc)

		if allowed[local.Weekday()] {
			if !local.Before(windowStart) && local.Before(windowEnd) {
				return local.UTC(), nil
			}
			if local.Before(windowStart) {
				return windowStart.UTC(), nil
			}
		}
		// Past today's window or a disallowed day: try the next day's opening.
		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		local = time.Date(local.Year(), local.Month(), local.Day(), startH, startM, 0, 0, loc)
	}

	return time.Time{}, fmt.Errorf("no business-hours slot within %d days", maxRollForwardDays)
}

// parseClock parses an "HH:MM" string.
func parseClock(s string) (hour, minute int, err error) {
	if _, err := time.Parse("15:04", s); err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	fmt.Sscanf(s, "%d:%d", &hour, &minute)
	return hour, minute, nil
}
