package controller

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"furitingoasis/growroom/internal/calibration"
	"furitingoasis/growroom/internal/models"
	"furitingoasis/growroom/internal/schedule"
)

// MaxWateringSeconds bounds a single watering run.
const MaxWateringSeconds = 3600

// Command is an operator request. Commands are validated before they touch
// the state; invalid ones fail with ErrInvalidCommand.
type Command interface {
	commandName() string
	apply(ctx context.Context, c *Controller, now time.Time) error
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), models.ErrInvalidCommand)
}

type SetBrightness struct {
	Light   int
	Percent int
}

func (SetBrightness) commandName() string { return "set_brightness" }

func (cmd SetBrightness) apply(ctx context.Context, c *Controller, _ time.Time) error {
	if _, ok := c.state.Lights[cmd.Light]; !ok {
		return invalid("unknown light %d", cmd.Light)
	}
	if cmd.Percent < 0 || cmd.Percent > 100 {
		return invalid("brightness %d out of range 0..100", cmd.Percent)
	}
	err := c.actuate(ctx, lightOutput(cmd.Light), func(ctx context.Context) error {
		return c.hw.SetLightBrightness(ctx, cmd.Light, cmd.Percent)
	})
	if err != nil {
		return err
	}
	c.state.Lights[cmd.Light] = cmd.Percent
	c.logger.Info("brightness set", "light", cmd.Light, "brightness", cmd.Percent)
	return nil
}

type ToggleStaticLight struct {
	Light int
}

func (ToggleStaticLight) commandName() string { return "toggle_static_light" }

func (cmd ToggleStaticLight) apply(ctx context.Context, c *Controller, _ time.Time) error {
	cur, ok := c.state.StaticLights[cmd.Light]
	if !ok {
		return invalid("unknown static light %d", cmd.Light)
	}
	err := c.actuate(ctx, staticOutput(cmd.Light), func(ctx context.Context) error {
		return c.hw.SetStaticLight(ctx, cmd.Light, !cur)
	})
	if err != nil {
		return err
	}
	c.state.StaticLights[cmd.Light] = !cur
	c.logger.Info("static light toggled", "light", cmd.Light, "on", !cur)
	return nil
}

// SetLightSchedule replaces the schedule of a light, or of a static light
// when Static is set, and applies it right away.
type SetLightSchedule struct {
	Light    int
	Static   bool
	Schedule models.LightSchedule
}

func (SetLightSchedule) commandName() string { return "set_light_schedule" }

func (cmd SetLightSchedule) apply(ctx context.Context, c *Controller, now time.Time) error {
	s := cmd.Schedule
	if _, err := schedule.FromLightSchedule(s); err != nil {
		return err
	}
	if s.DurationHours > 24 {
		return invalid("schedule duration %gh longer than a day", s.DurationHours)
	}

	if cmd.Static {
		if _, ok := c.state.StaticLights[cmd.Light]; !ok {
			return invalid("unknown static light %d", cmd.Light)
		}
		s.Brightness = 0
		c.state.StaticLightSchedules[cmd.Light] = s
	} else {
		if _, ok := c.state.Lights[cmd.Light]; !ok {
			return invalid("unknown light %d", cmd.Light)
		}
		if s.Brightness < 0 || s.Brightness > 100 {
			return invalid("brightness %d out of range 0..100", s.Brightness)
		}
		c.state.LightSchedules[cmd.Light] = s
	}
	c.logger.Info("light schedule set", "light", cmd.Light, "static", cmd.Static, "enabled", s.Enabled, "start", s.StartTime, "hours", s.DurationHours)

	c.applySchedules(ctx, now)
	return nil
}

// SetFan updates the fan settings. Nil fields are left unchanged.
type SetFan struct {
	TargetHumidity *float64
	ControlActive  *bool
	ManualOn       *bool
}

func (SetFan) commandName() string { return "set_fan" }

func (cmd SetFan) apply(ctx context.Context, c *Controller, now time.Time) error {
	if t := cmd.TargetHumidity; t != nil && (*t < models.MinTargetHumidity || *t > models.MaxTargetHumidity) {
		return invalid("target humidity %g out of range %d..%d", *t, models.MinTargetHumidity, models.MaxTargetHumidity)
	}

	f := &c.state.Fan
	if cmd.TargetHumidity != nil {
		f.TargetHumidity = *cmd.TargetHumidity
	}
	if cmd.ControlActive != nil {
		f.ControlActive = *cmd.ControlActive
	}
	if cmd.ManualOn != nil {
		f.ManualOn = *cmd.ManualOn
	}
	c.logger.Info("fan settings", "target", f.TargetHumidity, "control", f.ControlActive, "manual", f.ManualOn)

	_, err := c.applyFan(ctx, now)
	return err
}

// RequestWatering waters a stage now. A zero Duration uses the stage's
// configured duration. ErrAlreadyWatering means the pump is busy and the
// caller should try again shortly.
type RequestWatering struct {
	Stage    int
	Duration time.Duration
}

func (RequestWatering) commandName() string { return "request_watering" }

func (cmd RequestWatering) apply(ctx context.Context, c *Controller, now time.Time) error {
	if !c.stages[cmd.Stage] {
		return invalid("unknown stage %d", cmd.Stage)
	}
	d := cmd.Duration
	if d == 0 {
		d = seconds(c.state.WateringDurations[cmd.Stage])
	}
	if d <= 0 || d > seconds(MaxWateringSeconds) {
		return invalid("watering duration %s for stage %d", d, cmd.Stage)
	}
	return c.startWatering(ctx, cmd.Stage, d, now, "manual")
}

// StopWatering ends a stage's run and drops it from the queue. It is
// idempotent.
type StopWatering struct {
	Stage int
}

func (StopWatering) commandName() string { return "stop_watering" }

func (cmd StopWatering) apply(ctx context.Context, c *Controller, _ time.Time) error {
	if !c.stages[cmd.Stage] {
		return invalid("unknown stage %d", cmd.Stage)
	}
	_, wasActive := c.state.WateringActive[cmd.Stage]
	err := c.seq.Cancel(ctx, cmd.Stage)
	delete(c.state.WateringActive, cmd.Stage)
	delete(c.state.WateringTriggers, cmd.Stage)
	c.dequeue(cmd.Stage)
	if wasActive {
		c.metrics.WateringIdle()
	}
	c.logger.Info("watering stopped", "stage", cmd.Stage)
	if err != nil {
		c.fault("watering", err)
		return err
	}
	return nil
}

type SetWateringDuration struct {
	Stage   int
	Seconds int
}

func (SetWateringDuration) commandName() string { return "set_watering_duration" }

func (cmd SetWateringDuration) apply(_ context.Context, c *Controller, _ time.Time) error {
	if !c.stages[cmd.Stage] {
		return invalid("unknown stage %d", cmd.Stage)
	}
	if cmd.Seconds < 0 || cmd.Seconds > MaxWateringSeconds {
		return invalid("watering duration %ds out of range 0..%d", cmd.Seconds, MaxWateringSeconds)
	}
	c.state.WateringDurations[cmd.Stage] = cmd.Seconds
	return nil
}

type SetAutoWatering struct {
	Enabled   bool
	StartTime string
}

func (SetAutoWatering) commandName() string { return "set_auto_watering" }

func (cmd SetAutoWatering) apply(_ context.Context, c *Controller, now time.Time) error {
	if _, err := schedule.ParseTimeOfDay(cmd.StartTime); err != nil {
		return err
	}
	c.state.WateringAuto = models.AutoWatering{Enabled: cmd.Enabled, StartTime: cmd.StartTime}
	c.resetAutoWatering(now)
	c.logger.Info("auto watering set", "enabled", cmd.Enabled, "start", cmd.StartTime)
	return nil
}

// CapturePicture asks a camera to take a picture. The capture runs in the
// background; failures are logged.
type CapturePicture struct {
	Camera string
}

func (CapturePicture) commandName() string { return "capture_picture" }

func (cmd CapturePicture) apply(ctx context.Context, c *Controller, _ time.Time) error {
	cam, ok := c.cameras[cmd.Camera]
	if !ok {
		return invalid("unknown camera %q", cmd.Camera)
	}

	c.captures.Add(1)
	go func() {
		defer c.captures.Done()
		ctx, cancel := context.WithTimeout(ctx, c.settings.CaptureTimeout)
		defer cancel()
		if err := cam.Capture(ctx); err != nil {
			c.logger.Error("capture picture", "camera", cmd.Camera, "error", err)
			return
		}
		c.logger.Info("picture captured", "camera", cmd.Camera)
	}()
	return nil
}

// PutSensorConfig creates or replaces a sensor's configuration. Readings
// already recorded keep the value they were normalized with.
type PutSensorConfig struct {
	ID     string
	Config models.SensorConfig
}

func (PutSensorConfig) commandName() string { return "put_sensor_config" }

func (cmd PutSensorConfig) apply(_ context.Context, c *Controller, _ time.Time) error {
	if cmd.ID == "" || strings.Contains(cmd.ID, "/") {
		return invalid("sensor id %q", cmd.ID)
	}
	cfg := cmd.Config
	if cfg.MinADC == 0 && cfg.MaxADC == 0 {
		cfg.MinADC, cfg.MaxADC = calibration.DefaultMinADC, calibration.DefaultMaxADC
	}
	if err := calibration.Validate(cfg.MinADC, cfg.MaxADC); err != nil {
		return fmt.Errorf("sensor %s: %w: %w", cmd.ID, models.ErrInvalidCommand, err)
	}
	if cfg.MinMoisture < 0 || cfg.MinMoisture > 100 {
		return invalid("min moisture %g out of range 0..100", cfg.MinMoisture)
	}
	if cfg.Stage < 0 || (cfg.Stage > 0 && !c.stages[cfg.Stage]) {
		return invalid("unknown stage %d", cfg.Stage)
	}
	c.state.SensorConfigs[cmd.ID] = cfg
	c.humidityDirty = true
	c.logger.Info("sensor configured", "sensor", cmd.ID, "stage", cfg.Stage, "active", cfg.Active, "min_moisture", cfg.MinMoisture)
	return nil
}

// DeleteSensorConfig removes a sensor's configuration and its humidity
// series. Its moisture history stays on the dashboard.
type DeleteSensorConfig struct {
	ID string
}

func (DeleteSensorConfig) commandName() string { return "delete_sensor_config" }

func (cmd DeleteSensorConfig) apply(_ context.Context, c *Controller, _ time.Time) error {
	if _, ok := c.state.SensorConfigs[cmd.ID]; !ok {
		return fmt.Errorf("sensor %q: %w", cmd.ID, models.ErrNoRecord)
	}
	delete(c.state.SensorConfigs, cmd.ID)
	delete(c.humiditySeen, cmd.ID)
	c.humidity.Forget(cmd.ID)
	c.humidityDirty = true
	c.logger.Info("sensor configuration removed", "sensor", cmd.ID)
	return nil
}

type DismissAlert struct {
	ID string
}

func (DismissAlert) commandName() string { return "dismiss_alert" }

func (cmd DismissAlert) apply(_ context.Context, c *Controller, _ time.Time) error {
	i := slices.IndexFunc(c.state.Alerts, func(a models.Alert) bool { return a.ID == cmd.ID })
	if i < 0 {
		return fmt.Errorf("alert %q: %w", cmd.ID, models.ErrNoRecord)
	}
	c.state.Alerts = slices.Delete(c.state.Alerts, i, i+1)
	return nil
}
