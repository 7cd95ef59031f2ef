package hardware

import (
	"context"
	"errors"
	"sync"
)

const (
	OpValve  = "valve"
	OpPump   = "pump"
	OpLight  = "light"
	OpStatic = "static"
	OpFan    = "fan"
)

// ErrInjected is returned by Fake for scripted failures.
var ErrInjected = errors.New("injected failure")

// Call is one recorded Fake invocation.
type Call struct {
	Op    string
	ID    int
	Value int // 0/1 for switches, percent for lights
}

// Fake is an in-memory Actuator for tests. Failed calls leave the
// simulated outputs unchanged.
type Fake struct {
	mu sync.Mutex

	valves map[int]bool
	pump   bool
	lights map[int]int
	static map[int]bool
	fan    bool

	calls []Call
	fail  map[string]int
	hang  map[string]bool
}

func NewFake() *Fake {
	return &Fake{
		valves: make(map[int]bool),
		lights: make(map[int]int),
		static: make(map[int]bool),
		fail:   make(map[string]int),
		hang:   make(map[string]bool),
	}
}

// FailNext makes the next n calls of op return ErrInjected. A negative n
// fails every call until reset with FailNext(op, 0).
func (f *Fake) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = n
}

// Hang makes calls of op block until their context is done.
func (f *Fake) Hang(op string, hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[op] = hang
}

func (f *Fake) call(ctx context.Context, c Call, apply func()) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hang := f.hang[c.Op]
	var err error
	switch n := f.fail[c.Op]; {
	case n < 0:
		err = ErrInjected
	case n > 0:
		f.fail[c.Op] = n - 1
		err = ErrInjected
	}
	if err == nil && !hang {
		apply()
	}
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (f *Fake) SetValve(ctx context.Context, stage int, open bool) error {
	return f.call(ctx, Call{OpValve, stage, boolValue(open)}, func() { f.valves[stage] = open })
}

func (f *Fake) SetPump(ctx context.Context, on bool) error {
	return f.call(ctx, Call{OpPump, 0, boolValue(on)}, func() { f.pump = on })
}

func (f *Fake) SetLightBrightness(ctx context.Context, id, percent int) error {
	return f.call(ctx, Call{OpLight, id, percent}, func() { f.lights[id] = percent })
}

func (f *Fake) SetStaticLight(ctx context.Context, id int, on bool) error {
	return f.call(ctx, Call{OpStatic, id, boolValue(on)}, func() { f.static[id] = on })
}

func (f *Fake) SetFan(ctx context.Context, on bool) error {
	return f.call(ctx, Call{OpFan, 0, boolValue(on)}, func() { f.fan = on })
}

func (f *Fake) ValveOpen(stage int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valves[stage]
}

func (f *Fake) PumpOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pump
}

func (f *Fake) Brightness(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lights[id]
}

func (f *Fake) StaticOn(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.static[id]
}

func (f *Fake) FanOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fan
}

// Calls returns a copy of the recorded calls, optionally filtered by op.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the call log.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
