// Package sensorlog keeps a bounded, time-ordered history of readings per
// sensor and answers windowed averages over it.
package sensorlog

import (
	"maps"
	"slices"
	"sort"
	"time"

	"furitingoasis/growroom/internal/models"
)

const (
	DefaultMaxCount = 24
	DefaultMaxAge   = 48 * time.Hour
)

// Log is not safe for concurrent use. The controller loop owns it.
type Log struct {
	maxCount int
	maxAge   time.Duration
	series   map[string][]models.Reading
}

// New returns a Log that keeps at most maxCount readings per sensor and
// nothing older than maxAge behind that sensor's newest reading.
// Non-positive bounds fall back to the defaults.
func New(maxCount int, maxAge time.Duration) *Log {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Log{
		maxCount: maxCount,
		maxAge:   maxAge,
		series:   make(map[string][]models.Reading),
	}
}

// Record inserts a reading in timestamp order and evicts whatever falls
// outside the count or age bound.
func (l *Log) Record(id string, t time.Time, raw, normalized float64) {
	l.Add(id, models.Reading{Time: t, Raw: raw, Normalized: normalized})
}

// Add is Record for a complete reading.
func (l *Log) Add(id string, r models.Reading) {
	s := l.series[id]
	i := sort.Search(len(s), func(i int) bool { return s[i].Time.After(r.Time) })
	s = slices.Insert(s, i, r)
	l.series[id] = l.evict(s)
}

func (l *Log) evict(s []models.Reading) []models.Reading {
	if len(s) == 0 {
		return s
	}
	cutoff := s[len(s)-1].Time.Add(-l.maxAge)
	first := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(cutoff) })
	if over := len(s) - l.maxCount; over > first {
		first = over
	}
	if first == 0 {
		return s
	}
	return slices.Clone(s[first:])
}

// Average returns the mean normalized value of id's readings inside
// [now-window, now], or ErrNoData when there are none.
func (l *Log) Average(id string, window time.Duration, now time.Time) (float64, error) {
	from := now.Add(-window)

	var sum float64
	var n int
	for _, r := range l.series[id] {
		if r.Time.Before(from) || r.Time.After(now) {
			continue
		}
		sum += r.Normalized
		n++
	}
	if n == 0 {
		return 0, models.ErrNoData
	}
	return sum / float64(n), nil
}

// AverageAcrossSensors averages the per-sensor window averages of the
// sensors marked active. Sensors without data in the window are left out
// rather than counted as zero.
func (l *Log) AverageAcrossSensors(sensors map[string]bool, window time.Duration, now time.Time) (float64, error) {
	var sum float64
	var n int
	for id, active := range sensors {
		if !active {
			continue
		}
		avg, err := l.Average(id, window, now)
		if err != nil {
			continue
		}
		sum += avg
		n++
	}
	if n == 0 {
		return 0, models.ErrNoData
	}
	return sum / float64(n), nil
}

// Recent returns up to n of id's newest readings, oldest first.
func (l *Log) Recent(id string, n int) []models.Reading {
	s := l.series[id]
	if n < len(s) {
		s = s[len(s)-n:]
	}
	return slices.Clone(s)
}

// Len reports how many readings are held for id.
func (l *Log) Len(id string) int {
	return len(l.series[id])
}

// Forget drops id's history.
func (l *Log) Forget(id string) {
	delete(l.series, id)
}

// Snapshot returns a copy of every series.
func (l *Log) Snapshot() map[string][]models.Reading {
	out := make(map[string][]models.Reading, len(l.series))
	for _, id := range slices.Sorted(maps.Keys(l.series)) {
		out[id] = slices.Clone(l.series[id])
	}
	return out
}

// Restore replaces the log contents with history, re-applying the bounds.
func (l *Log) Restore(history map[string][]models.Reading) {
	l.series = make(map[string][]models.Reading, len(history))
	for id, readings := range history {
		s := slices.Clone(readings)
		slices.SortStableFunc(s, func(a, b models.Reading) int { return a.Time.Compare(b.Time) })
		l.series[id] = l.evict(s)
	}
}
