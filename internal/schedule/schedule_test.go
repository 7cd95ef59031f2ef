package schedule

import (
	"errors"
	"testing"
	"time"

	"furitingoasis/growroom/internal/models"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 5, day, hour, minute, 0, 0, time.UTC)
}

func TestShouldBeActiveWrapsMidnight(t *testing.T) {
	w := Window{Enabled: true, Start: TimeOfDay{23, 0}, Duration: 3 * time.Hour}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", at(1, 22, 59), false},
		{"at start", at(1, 23, 0), true},
		{"after midnight", at(2, 1, 0), true},
		{"last minute", at(2, 1, 59), true},
		{"at end", at(2, 2, 0), false},
		{"after end", at(2, 3, 1), false},
		{"midday", at(2, 12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldBeActive(w, tt.now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldBeActiveEdges(t *testing.T) {
	now := at(1, 5, 0)

	if ShouldBeActive(Window{Enabled: false, Start: TimeOfDay{0, 0}, Duration: 24 * time.Hour}, now) {
		t.Error("disabled window should never be active")
	}
	if ShouldBeActive(Window{Enabled: true, Start: TimeOfDay{5, 0}, Duration: 0}, now) {
		t.Error("zero duration should never be active")
	}
	if !ShouldBeActive(Window{Enabled: true, Start: TimeOfDay{6, 0}, Duration: 24 * time.Hour}, now) {
		t.Error("full-day window should always be active")
	}
}

func TestShouldBeActiveIdempotent(t *testing.T) {
	w := Window{Enabled: true, Start: TimeOfDay{8, 30}, Duration: 12 * time.Hour}
	now := at(3, 9, 0)
	first := ShouldBeActive(w, now)
	for i := 0; i < 3; i++ {
		if ShouldBeActive(w, now) != first {
			t.Fatal("result changed between identical calls")
		}
	}
}

func TestLastOccurrence(t *testing.T) {
	start := TimeOfDay{6, 0}
	if got := LastOccurrence(start, at(2, 7, 0)); !got.Equal(at(2, 6, 0)) {
		t.Errorf("later same day: got %v", got)
	}
	if got := LastOccurrence(start, at(2, 5, 0)); !got.Equal(at(1, 6, 0)) {
		t.Errorf("before start: got %v", got)
	}
	if got := LastOccurrence(start, at(2, 6, 0)); !got.Equal(at(2, 6, 0)) {
		t.Errorf("exactly at start: got %v", got)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("07:45")
	if err != nil || got != (TimeOfDay{7, 45}) {
		t.Fatalf("got (%v, %v)", got, err)
	}
	if got.String() != "07:45" {
		t.Errorf("String: got %q", got.String())
	}

	for _, s := range []string{"", "7:45", "24:00", "12:60", "ab:cd", "12-30"} {
		if _, err := ParseTimeOfDay(s); !errors.Is(err, models.ErrInvalidCommand) {
			t.Errorf("%q: got %v, want ErrInvalidCommand", s, err)
		}
	}
}

func TestFromLightSchedule(t *testing.T) {
	w, err := FromLightSchedule(models.LightSchedule{Enabled: true, StartTime: "18:00", DurationHours: 1.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Start != (TimeOfDay{18, 0}) || w.Duration != 90*time.Minute || !w.Enabled {
		t.Errorf("got %+v", w)
	}

	if _, err := FromLightSchedule(models.LightSchedule{StartTime: "18:00", DurationHours: -1}); !errors.Is(err, models.ErrInvalidCommand) {
		t.Errorf("negative duration: got %v", err)
	}
}
