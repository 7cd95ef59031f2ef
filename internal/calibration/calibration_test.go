package calibration

import (
	"errors"
	"testing"

	"furitingoasis/growroom/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		raw, lo, hi float64
		want        float64
	}{
		{"lower bound", 1000, 1000, 3000, 0},
		{"upper bound", 3000, 1000, 3000, 100},
		{"midpoint", 2000, 1000, 3000, 50},
		{"below range clamps", 10, 1000, 3000, 0},
		{"above range clamps", 4095, 1000, 3000, 100},
		{"default bounds", 4095, DefaultMinADC, DefaultMaxADC, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, tt.lo, tt.hi)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeInvalidCalibration(t *testing.T) {
	for _, b := range [][2]float64{{3000, 3000}, {3000, 1000}} {
		_, err := Normalize(2000, b[0], b[1])
		if !errors.Is(err, models.ErrInvalidCalibration) {
			t.Errorf("bounds %v: got %v, want ErrInvalidCalibration", b, err)
		}
	}
}

func TestNormalizeRangeAndMonotonic(t *testing.T) {
	bounds := [][2]float64{{0, 4095}, {1200, 2800}, {-50, 50}, {10, 11}}

	for _, b := range bounds {
		prev := -1.0
		for raw := b[0] - 500; raw <= b[1]+500; raw += 7 {
			got, err := Normalize(raw, b[0], b[1])
			if err != nil {
				t.Fatalf("bounds %v raw %v: %v", b, raw, err)
			}
			if got < 0 || got > 100 {
				t.Fatalf("bounds %v raw %v: %v out of [0,100]", b, raw, got)
			}
			if got < prev {
				t.Fatalf("bounds %v raw %v: %v decreased from %v", b, raw, got, prev)
			}
			prev = got
		}
	}
}
