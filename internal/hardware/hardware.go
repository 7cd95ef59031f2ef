// Package hardware drives the grow room's relays and PWM outputs.
// The Raspberry Pi implementation uses gobot. The logging implementation
// stands in when running off-target and the fake is used by tests.
package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"furitingoasis/growroom/internal/models"
)

// Actuator switches the grow room outputs. Stage and light ids are the
// keys used in the system state.
type Actuator interface {
	SetValve(ctx context.Context, stage int, open bool) error
	SetPump(ctx context.Context, on bool) error
	SetLightBrightness(ctx context.Context, id, percent int) error
	SetStaticLight(ctx context.Context, id int, on bool) error
	SetFan(ctx context.Context, on bool) error
}

// Guard runs fn under the call budget. A timeout, a cancelled context or
// an error from fn is reported as ErrHardwareFault.
//
// fn keeps running in the background after a timeout; the drivers have no
// way to abort a pin write midway.
func Guard(ctx context.Context, budget time.Duration, fn func() error) error {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrHardwareFault) {
			return err
		}
		return fmt.Errorf("%w: %w", models.ErrHardwareFault, err)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", models.ErrHardwareFault, ctx.Err())
	}
}

const deviceTreeModel = "/proc/device-tree/model"

// OnRaspberryPi reports whether the process runs on a Raspberry Pi.
func OnRaspberryPi() bool {
	b, err := os.ReadFile(deviceTreeModel)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("Raspberry Pi"))
}
