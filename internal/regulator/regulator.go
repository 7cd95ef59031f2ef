// Package regulator decides the fan state from sparse humidity averages.
//
// The estimate is an exponentially weighted moving average of the
// cross-sensor humidity. The fan switches on above target+Band and off
// below target-Band, and never flips automatically within MinDwell of its
// previous change.
package regulator

import "time"

const (
	DefaultAlpha    = 0.3
	DefaultBand     = 5.0
	DefaultMinDwell = 15 * time.Minute
)

type Regulator struct {
	Alpha    float64
	Band     float64
	MinDwell time.Duration

	estimate   float64
	seeded     bool
	on         bool
	lastChange time.Time
}

// New returns a Regulator with the given tuning. Zero values are replaced
// by the defaults.
func New(alpha, band float64, minDwell time.Duration) *Regulator {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	if band <= 0 {
		band = DefaultBand
	}
	if minDwell < 0 {
		minDwell = DefaultMinDwell
	}
	return &Regulator{Alpha: alpha, Band: band, MinDwell: minDwell}
}

// Observe folds a new cross-sensor average into the estimate. The first
// observation seeds it.
func (r *Regulator) Observe(avg float64) {
	if !r.seeded {
		r.estimate = avg
		r.seeded = true
		return
	}
	r.estimate = r.Alpha*avg + (1-r.Alpha)*r.estimate
}

// Estimate returns the smoothed humidity, or false before the first
// observation.
func (r *Regulator) Estimate() (float64, bool) {
	return r.estimate, r.seeded
}

// On reports the last decided actuator state.
func (r *Regulator) On() bool {
	return r.on
}

// Evaluate returns the desired actuator state and whether it differs from
// the current one. It does not change the regulator; call Apply once the
// actuator has actually switched.
func (r *Regulator) Evaluate(target float64, now time.Time) (on, changed bool) {
	if !r.seeded {
		return r.on, false
	}
	if !r.lastChange.IsZero() && now.Sub(r.lastChange) < r.MinDwell {
		return r.on, false
	}

	want := r.on
	switch {
	case r.estimate > target+r.Band:
		want = true
	case r.estimate < target-r.Band:
		want = false
	}
	return want, want != r.on
}

// Apply records the actuator state, from an automatic decision or a manual
// override. The dwell timer restarts only when the state flips.
func (r *Regulator) Apply(on bool, now time.Time) (changed bool) {
	if on == r.on {
		return false
	}
	r.on = on
	r.lastChange = now
	return true
}

// Restore seeds the regulator from persisted state. A nil estimate leaves
// it unseeded.
func (r *Regulator) Restore(estimate *float64, on bool) {
	r.on = on
	r.seeded = estimate != nil
	if estimate != nil {
		r.estimate = *estimate
	}
}
