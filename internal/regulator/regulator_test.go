package regulator

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// step observes avg and applies whatever the regulator decides, the way
// the controller does after a successful actuation.
func step(r *Regulator, avg, target float64, now time.Time) (on, changed bool) {
	r.Observe(avg)
	on, changed = r.Evaluate(target, now)
	if changed {
		r.Apply(on, now)
	}
	return on, changed
}

func TestHysteresis(t *testing.T) {
	r := New(1, 5, 0) // alpha 1: the estimate is the last average

	steps := []struct {
		avg         float64
		wantOn      bool
		wantChanged bool
	}{
		{74, false, false},
		{76, true, true},
		{71, true, false},
		{66, true, false},
		{64, false, true},
		{70, false, false},
	}

	now := t0
	for i, s := range steps {
		on, changed := step(r, s.avg, 70, now)
		if on != s.wantOn || changed != s.wantChanged {
			t.Errorf("step %d avg %v: got (on=%v, changed=%v), want (%v, %v)",
				i, s.avg, on, changed, s.wantOn, s.wantChanged)
		}
		now = now.Add(time.Minute)
	}
}

func TestMinimumDwell(t *testing.T) {
	r := New(1, 5, 15*time.Minute)

	if on, changed := step(r, 80, 70, t0); !on || !changed {
		t.Fatalf("first flip: got (%v, %v)", on, changed)
	}

	if on, changed := step(r, 50, 70, t0.Add(5*time.Minute)); !on || changed {
		t.Errorf("inside dwell: got (%v, %v), want (true, false)", on, changed)
	}

	if on, changed := step(r, 50, 70, t0.Add(15*time.Minute)); on || !changed {
		t.Errorf("after dwell: got (%v, %v), want (false, true)", on, changed)
	}
}

func TestEvaluateDoesNotCommit(t *testing.T) {
	r := New(1, 5, 0)
	r.Observe(90)

	for i := 0; i < 2; i++ {
		if on, changed := r.Evaluate(70, t0); !on || !changed {
			t.Fatalf("call %d: got (%v, %v), want (true, true)", i, on, changed)
		}
	}
	if r.On() {
		t.Error("Evaluate alone must not switch the regulator")
	}
}

func TestUnseededLeavesActuator(t *testing.T) {
	r := New(0.3, 5, 0)
	if on, changed := r.Evaluate(70, t0); on || changed {
		t.Errorf("got (%v, %v), want (false, false)", on, changed)
	}
	if _, ok := r.Estimate(); ok {
		t.Error("expected no estimate before the first observation")
	}
}

func TestSmoothing(t *testing.T) {
	r := New(0.5, 5, 0)
	r.Observe(60)
	r.Observe(80)

	got, ok := r.Estimate()
	if !ok || got != 70 {
		t.Fatalf("estimate: got (%v, %v), want (70, true)", got, ok)
	}

	// A single spike does not cross the band once smoothed.
	if on, _ := step(r, 78, 70, t0); on {
		t.Errorf("smoothed estimate %v should not switch on", r.estimate)
	}
}

func TestApplyAndRestore(t *testing.T) {
	r := New(1, 5, 15*time.Minute)

	if !r.Apply(true, t0) {
		t.Fatal("expected Apply to flip")
	}
	if r.Apply(true, t0.Add(time.Minute)) {
		t.Error("second Apply with the same state should not report a change")
	}

	// A manual switch restarts the dwell, so automatic control waits.
	if on, changed := step(r, 10, 70, t0.Add(time.Minute)); !on || changed {
		t.Errorf("got (%v, %v), want (true, false)", on, changed)
	}

	est := 42.0
	r2 := New(1, 5, 0)
	r2.Restore(&est, true)
	if got, ok := r2.Estimate(); !ok || got != 42 {
		t.Errorf("restored estimate: got (%v, %v)", got, ok)
	}
	if on, changed := r2.Evaluate(70, t0); on || !changed {
		t.Errorf("restored evaluate: got (%v, %v), want (false, true)", on, changed)
	}

	r3 := New(1, 5, 0)
	r3.Restore(nil, true)
	if _, ok := r3.Estimate(); ok || !r3.On() {
		t.Error("nil estimate should restore unseeded with the actuator state kept")
	}
}
