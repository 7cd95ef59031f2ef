// Package calibration converts raw ADC readings into percentages.
package calibration

import (
	"fmt"

	"furitingoasis/growroom/internal/models"
)

// Default bounds for sensors that report before they are configured
// (12-bit ADC on the soil probes).
const (
	DefaultMinADC = 0
	DefaultMaxADC = 4095
)

// Validate reports ErrInvalidCalibration unless maxADC > minADC.
func Validate(minADC, maxADC float64) error {
	if maxADC <= minADC {
		return fmt.Errorf("min_adc %g, max_adc %g: %w", minADC, maxADC, models.ErrInvalidCalibration)
	}
	return nil
}

// Normalize maps raw linearly from [minADC, maxADC] onto [0, 100] and clamps
// the result. The output never decreases as raw grows.
func Normalize(raw, minADC, maxADC float64) (float64, error) {
	if err := Validate(minADC, maxADC); err != nil {
		return 0, err
	}

	pct := (raw - minADC) * 100 / (maxADC - minADC)
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return pct, nil
}
