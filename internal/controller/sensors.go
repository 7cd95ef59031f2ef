package controller

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"furitingoasis/growroom/internal/calibration"
	"furitingoasis/growroom/internal/models"
)

// onSensorMessage normalizes and records one probe report and raises the
// stage trigger when the soil has stayed too dry. Watering itself waits for
// the next TriggerCheck.
func (c *Controller) onSensorMessage(m SensorMessage) {
	t := m.Time
	if t.IsZero() {
		t = c.now()
	}

	minADC, maxADC := float64(calibration.DefaultMinADC), float64(calibration.DefaultMaxADC)
	cfg, configured := c.state.SensorConfigs[m.SensorID]
	if configured {
		minADC, maxADC = cfg.MinADC, cfg.MaxADC
	}
	pct, err := calibration.Normalize(m.Raw, minADC, maxADC)
	if err != nil {
		c.metrics.SensorMessage(false)
		c.logger.Warn("dropping sensor message", "sensor", m.SensorID, "error", err)
		return
	}
	c.metrics.SensorMessage(true)

	c.moisture.Add(m.SensorID, models.Reading{Time: t, Raw: m.Raw, Normalized: pct, Temperature: m.Temperature})
	if m.Humidity != nil {
		c.humidity.Record(m.SensorID, t, *m.Humidity, *m.Humidity)
		c.humiditySeen[m.SensorID] = true
		c.humidityDirty = true
	}
	if m.Temperature != nil {
		c.logger.Debug("sensor reading", "sensor", m.SensorID, "raw", m.Raw, "moisture", pct, "temperature", *m.Temperature)
	} else {
		c.logger.Debug("sensor reading", "sensor", m.SensorID, "raw", m.Raw, "moisture", pct)
	}

	if configured && cfg.Active && cfg.Stage > 0 && c.tooDry(m.SensorID, cfg) && !c.state.WateringTriggers[cfg.Stage] {
		c.state.WateringTriggers[cfg.Stage] = true
		c.logger.Info("watering triggered", "sensor", m.SensorID, "stage", cfg.Stage, "moisture", pct, "threshold", cfg.MinMoisture)
	}

	c.requestPersist()
}

// tooDry reports whether the sensor's newest TriggerSamples readings are all
// below its threshold.
func (c *Controller) tooDry(id string, cfg models.SensorConfig) bool {
	n := c.settings.TriggerSamples
	if c.moisture.Len(id) < n {
		return false
	}
	for _, r := range c.moisture.Recent(id, n) {
		if r.Normalized >= cfg.MinMoisture {
			return false
		}
	}
	return true
}

// onTriggerCheck starts every pending trigger in stage order. A trigger is
// consumed whatever the outcome; a stage that finds the pump busy is queued.
func (c *Controller) onTriggerCheck(ctx context.Context, now time.Time) {
	if len(c.state.WateringTriggers) == 0 {
		return
	}
	if now.IsZero() {
		now = c.now()
	}

	for _, stage := range slices.Sorted(maps.Keys(c.state.WateringTriggers)) {
		pending := c.state.WateringTriggers[stage]
		delete(c.state.WateringTriggers, stage)
		if !pending {
			continue
		}

		secs := c.state.WateringDurations[stage]
		if secs <= 0 {
			c.logger.Warn("trigger for stage without watering duration", "stage", stage)
			continue
		}
		err := c.startWatering(ctx, stage, seconds(secs), now, "sensor")
		switch {
		case err == nil, errors.Is(err, models.ErrHardwareFault):
		case errors.Is(err, models.ErrAlreadyWatering):
			if c.enqueue(stage, "sensor") {
				c.logger.Info("pump busy, stage queued", "stage", stage)
			}
		default:
			c.logger.Error("trigger start", "stage", stage, "error", err)
		}
	}

	c.requestPersist()
}
