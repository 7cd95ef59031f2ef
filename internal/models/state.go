package models

import (
	"maps"
	"slices"
	"time"
)

// MaxAlerts bounds the number of alerts kept in SystemState.
const MaxAlerts = 20

// Accepted range for the fan's target humidity, in percent.
const (
	MinTargetHumidity = 40
	MaxTargetHumidity = 90
)

type LightSchedule struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	StartTime     string  `json:"start_time" yaml:"start_time"`
	DurationHours float64 `json:"duration_hours" yaml:"duration_hours"`
	Brightness    int     `json:"brightness" yaml:"brightness"`
}

type AutoWatering struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	StartTime string `json:"start_time" yaml:"start_time"`
}

type WateringRun struct {
	Deadline time.Time `json:"deadline"`
}

type SensorConfig struct {
	Stage       int     `json:"stage" yaml:"stage"`
	MinMoisture float64 `json:"min_moisture" yaml:"min_moisture"`
	Active      bool    `json:"active" yaml:"active"`
	MinADC      float64 `json:"min_adc" yaml:"min_adc"`
	MaxADC      float64 `json:"max_adc" yaml:"max_adc"`
}

// Reading is one ingested sample. Normalized was computed with the
// calibration in effect when the sample arrived. Temperature is the probe's
// air temperature in °C, nil when it did not send one.
type Reading struct {
	Time        time.Time `json:"timestamp"`
	Raw         float64   `json:"raw"`
	Normalized  float64   `json:"normalized"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type FanState struct {
	TargetHumidity   float64  `json:"target_humidity"`
	ControlActive    bool     `json:"control_active"`
	ManualOn         bool     `json:"manual_on"`
	SmoothedEstimate *float64 `json:"smoothed_estimate,omitempty"`
	ActuatorOn       bool     `json:"actuator_on"`
}

type Alert struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// SystemState is the single aggregate owned by the controller loop.
// Everything outside the loop only ever sees a Clone.
type SystemState struct {
	Lights               map[int]int             `json:"lights"`
	StaticLights         map[int]bool            `json:"static_lights"`
	LightSchedules       map[int]LightSchedule   `json:"light_schedules"`
	StaticLightSchedules map[int]LightSchedule   `json:"static_light_schedules"`
	WateringDurations    map[int]int             `json:"watering_durations"`
	WateringAuto         AutoWatering            `json:"watering_auto"`
	WateringActive       map[int]WateringRun     `json:"watering_active"`
	WateringTriggers     map[int]bool            `json:"watering_triggers"`
	WateringQueue        []int                   `json:"watering_queue"`
	SensorConfigs        map[string]SensorConfig `json:"sensor_configs"`
	SensorHistory        map[string][]Reading    `json:"sensor_history"`
	Fan                  FanState                `json:"fan"`
	Alerts               []Alert                 `json:"alerts"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

// NewSystemState returns a state with every map allocated.
func NewSystemState() SystemState {
	return SystemState{
		Lights:               map[int]int{},
		StaticLights:         map[int]bool{},
		LightSchedules:       map[int]LightSchedule{},
		StaticLightSchedules: map[int]LightSchedule{},
		WateringDurations:    map[int]int{},
		WateringActive:       map[int]WateringRun{},
		WateringTriggers:     map[int]bool{},
		SensorConfigs:        map[string]SensorConfig{},
		SensorHistory:        map[string][]Reading{},
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s SystemState) Clone() SystemState {
	c := s
	c.Lights = cloneMap(s.Lights)
	c.StaticLights = cloneMap(s.StaticLights)
	c.LightSchedules = cloneMap(s.LightSchedules)
	c.StaticLightSchedules = cloneMap(s.StaticLightSchedules)
	c.WateringDurations = cloneMap(s.WateringDurations)
	c.WateringActive = cloneMap(s.WateringActive)
	c.WateringTriggers = cloneMap(s.WateringTriggers)
	c.SensorConfigs = cloneMap(s.SensorConfigs)
	c.WateringQueue = slices.Clone(s.WateringQueue)
	c.Alerts = slices.Clone(s.Alerts)

	c.SensorHistory = make(map[string][]Reading, len(s.SensorHistory))
	for id, readings := range s.SensorHistory {
		c.SensorHistory[id] = slices.Clone(readings)
	}

	if s.Fan.SmoothedEstimate != nil {
		v := *s.Fan.SmoothedEstimate
		c.Fan.SmoothedEstimate = &v
	}
	return c
}

// Stages returns the configured watering stages in ascending order.
func (s SystemState) Stages() []int {
	return slices.Sorted(maps.Keys(s.WateringDurations))
}

// AddAlert appends a and drops the oldest alerts beyond MaxAlerts.
func (s *SystemState) AddAlert(a Alert) {
	s.Alerts = append(s.Alerts, a)
	if over := len(s.Alerts) - MaxAlerts; over > 0 {
		s.Alerts = slices.Delete(s.Alerts, 0, over)
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return maps.Clone(m)
}
