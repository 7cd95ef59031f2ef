// Package schedule evaluates daily time windows such as light periods and
// the auto-watering start.
package schedule

import (
	"fmt"
	"time"

	"furitingoasis/growroom/internal/models"
)

const day = 24 * time.Hour

// TimeOfDay is a wall-clock time with minute resolution.
type TimeOfDay struct {
	Hour, Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" (24-hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if len(s) != 5 || s[2] != ':' {
		return t, fmt.Errorf("time of day %q: want HH:MM: %w", s, models.ErrInvalidCommand)
	}
	p, err := time.Parse("15:04", s)
	if err != nil {
		return t, fmt.Errorf("time of day %q: %w", s, models.ErrInvalidCommand)
	}
	return TimeOfDay{Hour: p.Hour(), Minute: p.Minute()}, nil
}

type Window struct {
	Enabled  bool
	Start    TimeOfDay
	Duration time.Duration
}

// FromLightSchedule converts a stored light schedule into a Window.
func FromLightSchedule(s models.LightSchedule) (Window, error) {
	start, err := ParseTimeOfDay(s.StartTime)
	if err != nil {
		return Window{}, err
	}
	if s.DurationHours < 0 {
		return Window{}, fmt.Errorf("duration %g h: %w", s.DurationHours, models.ErrInvalidCommand)
	}
	return Window{
		Enabled:  s.Enabled,
		Start:    start,
		Duration: time.Duration(s.DurationHours * float64(time.Hour)),
	}, nil
}

// LastOccurrence returns the most recent instant at or before now whose
// wall clock in now's location equals start.
func LastOccurrence(start TimeOfDay, now time.Time) time.Time {
	y, m, d := now.Date()
	t := time.Date(y, m, d, start.Hour, start.Minute, 0, 0, now.Location())
	if t.After(now) {
		t = time.Date(y, m, d-1, start.Hour, start.Minute, 0, 0, now.Location())
	}
	return t
}

// ShouldBeActive reports whether now falls inside the window's most recent
// occurrence. Windows of a day or longer are always active.
func ShouldBeActive(w Window, now time.Time) bool {
	if !w.Enabled || w.Duration <= 0 {
		return false
	}
	if w.Duration >= day {
		return true
	}
	return now.Sub(LastOccurrence(w.Start, now)) < w.Duration
}
