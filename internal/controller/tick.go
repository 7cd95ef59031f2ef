package controller

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"furitingoasis/growroom/internal/models"
	"furitingoasis/growroom/internal/schedule"
)

func (c *Controller) onTick(ctx context.Context, now time.Time) {
	if now.IsZero() {
		now = c.now()
	}

	changed := c.applySchedules(ctx, now)
	if c.autoWatering(now) {
		changed = true
	}
	if c.checkWatering(ctx, now) {
		changed = true
	}
	if c.startQueued(ctx, now) {
		changed = true
	}
	if c.updateFan(ctx, now) {
		changed = true
	}

	if changed || now.Sub(c.lastPersist) >= c.settings.PersistInterval {
		c.requestPersist()
	}
}

// applySchedules drives every light with an enabled schedule to the level
// its window asks for. Outputs already at that level are left alone.
func (c *Controller) applySchedules(ctx context.Context, now time.Time) bool {
	changed := false

	for _, id := range slices.Sorted(maps.Keys(c.state.LightSchedules)) {
		w, ok := c.window(c.state.LightSchedules[id], "light", id)
		if !ok {
			continue
		}
		want := 0
		if schedule.ShouldBeActive(w, now) {
			want = c.state.LightSchedules[id].Brightness
		}
		if cur, ok := c.state.Lights[id]; ok && cur == want {
			continue
		}
		if err := c.actuate(ctx, lightOutput(id), func(ctx context.Context) error { return c.hw.SetLightBrightness(ctx, id, want) }); err != nil {
			continue
		}
		c.state.Lights[id] = want
		c.logger.Info("light scheduled", "light", id, "brightness", want)
		changed = true
	}

	for _, id := range slices.Sorted(maps.Keys(c.state.StaticLightSchedules)) {
		w, ok := c.window(c.state.StaticLightSchedules[id], "static light", id)
		if !ok {
			continue
		}
		want := schedule.ShouldBeActive(w, now)
		if cur, ok := c.state.StaticLights[id]; ok && cur == want {
			continue
		}
		if err := c.actuate(ctx, staticOutput(id), func(ctx context.Context) error { return c.hw.SetStaticLight(ctx, id, want) }); err != nil {
			continue
		}
		c.state.StaticLights[id] = want
		c.logger.Info("static light scheduled", "light", id, "on", want)
		changed = true
	}

	return changed
}

// window returns the enabled window of s. Disabled or unparsable schedules
// leave the light to manual control.
func (c *Controller) window(s models.LightSchedule, kind string, id int) (schedule.Window, bool) {
	if !s.Enabled {
		return schedule.Window{}, false
	}
	w, err := schedule.FromLightSchedule(s)
	if err != nil {
		c.logger.Warn("ignoring light schedule", "kind", kind, "light", id, "error", err)
		return schedule.Window{}, false
	}
	return w, true
}

// autoWatering queues every stage with a watering duration once per
// occurrence of the daily start time.
func (c *Controller) autoWatering(now time.Time) bool {
	auto := c.state.WateringAuto
	if !auto.Enabled {
		return false
	}
	start, err := schedule.ParseTimeOfDay(auto.StartTime)
	if err != nil {
		return false
	}
	occ := schedule.LastOccurrence(start, now)
	if !occ.After(c.lastAutoStart) {
		return false
	}
	c.lastAutoStart = occ

	var queued []int
	for _, stage := range c.state.Stages() {
		if c.state.WateringDurations[stage] > 0 && c.enqueue(stage, "schedule") {
			queued = append(queued, stage)
		}
	}
	c.logger.Info("auto watering", "start", start, "queued", queued)
	return true
}

// checkWatering ends runs whose deadline passed.
func (c *Controller) checkWatering(ctx context.Context, now time.Time) bool {
	if len(c.state.WateringActive) == 0 && !c.seq.Busy() {
		return false
	}
	done, err := c.seq.Check(ctx, now)
	for _, stage := range done {
		delete(c.state.WateringActive, stage)
		c.metrics.WateringIdle()
	}
	if err != nil {
		c.fault("watering", err)
	}
	return len(done) > 0 || err != nil
}

// startQueued starts the head of the watering queue when the pump is free.
func (c *Controller) startQueued(ctx context.Context, now time.Time) bool {
	if c.seq.Busy() || len(c.state.WateringQueue) == 0 {
		return false
	}
	stage := c.state.WateringQueue[0]
	secs := c.state.WateringDurations[stage]
	if secs <= 0 {
		c.logger.Warn("dropping queued stage without duration", "stage", stage)
		c.dequeue(stage)
		return true
	}
	source, ok := c.queueSource[stage]
	if !ok {
		// restored from a snapshot
		source = "schedule"
	}
	err := c.startWatering(ctx, stage, seconds(secs), now, source)
	if err != nil && !errors.Is(err, models.ErrHardwareFault) {
		c.logger.Error("starting queued stage", "stage", stage, "error", err)
		c.dequeue(stage)
	}
	return true
}

// startWatering starts stage and records the run. A hardware fault drops
// the stage from the queue and raises an alert; ErrAlreadyWatering is left
// to the caller.
func (c *Controller) startWatering(ctx context.Context, stage int, d time.Duration, now time.Time, source string) error {
	deadline, err := c.seq.Start(ctx, stage, d, now)
	if err != nil {
		if errors.Is(err, models.ErrHardwareFault) {
			c.dequeue(stage)
			c.fault("watering", err)
		}
		return err
	}
	c.dequeue(stage)
	c.state.WateringActive[stage] = models.WateringRun{Deadline: deadline}
	c.metrics.WateringStarted(source, stage)
	c.logger.Info("watering", "stage", stage, "source", source, "deadline", deadline)
	return nil
}

// enqueue adds stage to the watering queue unless it is already queued or
// watering. source labels the run once it starts.
func (c *Controller) enqueue(stage int, source string) bool {
	if _, ok := c.state.WateringActive[stage]; ok {
		return false
	}
	if slices.Contains(c.state.WateringQueue, stage) {
		return false
	}
	c.state.WateringQueue = append(c.state.WateringQueue, stage)
	c.queueSource[stage] = source
	return true
}

func (c *Controller) dequeue(stage int) {
	c.state.WateringQueue = slices.DeleteFunc(c.state.WateringQueue, func(s int) bool { return s == stage })
	delete(c.queueSource, stage)
}

// updateFan feeds fresh humidity into the regulator and applies its
// decision.
func (c *Controller) updateFan(ctx context.Context, now time.Time) bool {
	if c.humidityDirty {
		c.humidityDirty = false
		avg, err := c.humidity.AverageAcrossSensors(c.humiditySensors(), c.settings.HumidityWindow, now)
		if err == nil {
			c.fan.Observe(avg)
			est, _ := c.fan.Estimate()
			c.metrics.Fan(c.state.Fan.ActuatorOn, &est)
		}
	}
	changed, _ := c.applyFan(ctx, now)
	return changed
}

// humiditySensors lists every sensor that reported humidity, marking the
// configured, active ones. Unconfigured probes never drive the fan.
func (c *Controller) humiditySensors() map[string]bool {
	sensors := make(map[string]bool, len(c.humiditySeen))
	for id := range c.humiditySeen {
		cfg, ok := c.state.SensorConfigs[id]
		sensors[id] = ok && cfg.Active
	}
	return sensors
}

// applyFan switches the fan to the manual state when automatic control is
// off or overridden, and to the regulator's decision otherwise.
func (c *Controller) applyFan(ctx context.Context, now time.Time) (bool, error) {
	f := &c.state.Fan

	want := f.ManualOn
	if !f.ManualOn && f.ControlActive {
		want, _ = c.fan.Evaluate(f.TargetHumidity, now)
	}
	if want == f.ActuatorOn {
		return false, nil
	}

	if err := c.actuate(ctx, "fan", func(ctx context.Context) error { return c.hw.SetFan(ctx, want) }); err != nil {
		return false, err
	}
	c.fan.Apply(want, now)
	f.ActuatorOn = want

	est, ok := c.fan.Estimate()
	if ok {
		c.metrics.Fan(want, &est)
	} else {
		c.metrics.Fan(want, nil)
	}
	c.logger.Info("fan switched", "on", want, "estimate", est, "target", f.TargetHumidity, "manual", f.ManualOn)
	return true, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
