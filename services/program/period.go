package program

import (
	"fmt"
	"time"
)

func (p PeriodWindow) Validate() error {
	switch p.Type {
	case PeriodCalendar:
		switch p.Unit {
		case UnitDay, UnitWeek, UnitMonth:
		default:
			return fmt.Errorf("%w: unknown calendar unit %q", ErrInvalidLimits, p.Unit)
		}
	case PeriodRolling:
		if p.Days <= 0 {
			return fmt.Errorf("%w: rolling period needs days > 0", ErrInvalidLimits)
		}
	default:
		return fmt.Errorf("%w: unknown period type %q", ErrInvalidLimits, p.Type)
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidLimits, err)
		}
	}
	return nil
}

// Window returns the [start, end) interval containing at. Calendar windows
// start at local midnight in the period timezone, so a DST shift changes the
// window length rather than its boundaries. Rolling windows end just after at.
func (p PeriodWindow) Window(at time.Time) (time.Time, time.Time) {
	loc := time.UTC
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}

	if p.Type == PeriodRolling {
		return at.In(loc).AddDate(0, 0, -p.Days).UTC(), at.Add(time.Nanosecond).UTC()
	}

	local := at.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch p.Unit {
	case UnitWeek:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		start := day.AddDate(0, 0, -offset)
		return start.UTC(), start.AddDate(0, 0, 7).UTC()
	case UnitMonth:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return start.UTC(), start.AddDate(0, 1, 0).UTC()
	default:
		return day.UTC(), day.AddDate(0, 0, 1).UTC()
	}
}
