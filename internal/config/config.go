// Package config reads the controller configuration from a YAML file.
// JSON is a subset of YAML, so the older config.json files load as well.
package config

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"furitingoasis/growroom/internal/calibration"
	"furitingoasis/growroom/internal/models"
	"furitingoasis/growroom/internal/schedule"
)

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Database Database `yaml:"database"`
	MQTT     MQTT     `yaml:"mqtt"`
	Pins     Pins     `yaml:"pins"`
	Webcam   Webcam   `yaml:"webcam"`
	Initial  Initial  `yaml:"initial"`
	Control  Control  `yaml:"control"`
	Admin    Admin    `yaml:"admin"`

	// CameraEndpoints maps a camera name to its base URL.
	CameraEndpoints map[string]string `yaml:"camera_endpoints"`
}

type HTTP struct {
	Addr string `yaml:"addr"`

	// SecureCookies marks session and CSRF cookies HTTPS-only. Leave it off
	// when the dashboard is served over plain HTTP on the local network.
	SecureCookies bool `yaml:"secure_cookies"`
}

type Database struct {
	DSN               string `yaml:"dsn"`
	SnapshotRetention int    `yaml:"snapshot_retention"`
}

type MQTT struct {
	BrokerURL     string        `yaml:"broker_url"`
	ClientID      string        `yaml:"client_id"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	QoS           byte          `yaml:"qos"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Pins are Raspberry Pi header pin numbers, keyed by light id or stage.
type Pins struct {
	Lights       IntKeyed[string] `yaml:"light_pins"`
	StaticLights IntKeyed[string] `yaml:"static_light_pins"`
	Valves       IntKeyed[string] `yaml:"valve_pins"`
	Pump         string           `yaml:"pump_pin"`
	Fan          string           `yaml:"fan_pin"`
	ActiveLow    bool             `yaml:"active_low"`
}

type Webcam struct {
	Device string `yaml:"device"`
	Dir    string `yaml:"dir"`
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

// Initial is the state used when no snapshot has been saved yet.
type Initial struct {
	Lights               IntKeyed[int]                  `yaml:"lights"`
	StaticLights         IntKeyed[bool]                 `yaml:"static_lights"`
	LightSchedules       IntKeyed[models.LightSchedule] `yaml:"light_schedules"`
	StaticLightSchedules IntKeyed[models.LightSchedule] `yaml:"static_light_schedules"`
	WateringDurations    IntKeyed[int]                  `yaml:"watering_durations"`
	WateringAuto         models.AutoWatering            `yaml:"watering_auto"`
	SensorConfigs        map[string]models.SensorConfig `yaml:"sensor_configs"`
	Fan                  Fan                            `yaml:"fan"`
}

type Fan struct {
	TargetHumidity float64 `yaml:"target_humidity"`
	ControlActive  bool    `yaml:"control_active"`
}

// Control holds the loop timings and regulator tuning.
type Control struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	PersistInterval  time.Duration `yaml:"persist_interval"`
	StatusInterval   time.Duration `yaml:"status_interval"`
	HumidityWindow   time.Duration `yaml:"humidity_window"`
	HistoryCount     int           `yaml:"history_count"`
	HistoryAge       time.Duration `yaml:"history_age"`
	FanAlpha         float64       `yaml:"fan_alpha"`
	FanBand          float64       `yaml:"fan_band"`
	FanMinDwell      time.Duration `yaml:"fan_min_dwell"`
	ActuationTimeout time.Duration `yaml:"actuation_timeout"`
	ShutoffRetries   int           `yaml:"shutoff_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	TriggerSamples   int           `yaml:"trigger_samples"`
	QueueSize        int           `yaml:"queue_size"`
}

type Admin struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// IntKeyed is a mapping keyed by integers. Keys may be written quoted, as
// JSON requires.
type IntKeyed[V any] map[int]V

func (m *IntKeyed[V]) UnmarshalYAML(n *yaml.Node) error {
	var raw map[string]V
	if err := n.Decode(&raw); err != nil {
		return err
	}
	out := make(IntKeyed[V], len(raw))
	for k, v := range raw {
		i, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("line %d: key %q is not an integer", n.Line, k)
		}
		out[i] = v
	}
	*m = out
	return nil
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	return &Config{
		HTTP:     HTTP{Addr: ":4000"},
		Database: Database{DSN: "growroom.db", SnapshotRetention: models.DefaultSnapshotRetention},
		MQTT: MQTT{
			BrokerURL:     "tcp://localhost:1883",
			ClientID:      "growroom-controller",
			QoS:           1,
			MaxRetries:    3,
			RetryInterval: 2 * time.Second,
		},
		Initial: Initial{
			WateringAuto: models.AutoWatering{StartTime: "06:00"},
			Fan:          Fan{TargetHumidity: 70, ControlActive: true},
		},
		Control: Control{
			TickInterval:     time.Second,
			PersistInterval:  5 * time.Minute,
			StatusInterval:   375 * time.Second,
			HumidityWindow:   time.Hour,
			HistoryCount:     24,
			HistoryAge:       48 * time.Hour,
			FanAlpha:         0.3,
			FanBand:          5,
			FanMinDwell:      15 * time.Minute,
			ActuationTimeout: 5 * time.Second,
			ShutoffRetries:   3,
			RetryDelay:       2 * time.Second,
			TriggerSamples:   1,
			QueueSize:        64,
		},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := cfg.decode(f); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	// Sensors listed without bounds use the full 12-bit range.
	for id, sc := range c.Initial.SensorConfigs {
		if sc.MinADC == 0 && sc.MaxADC == 0 {
			sc.MaxADC = calibration.DefaultMaxADC
			c.Initial.SensorConfigs[id] = sc
		}
	}
	return nil
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var result error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	for id, sc := range c.Initial.SensorConfigs {
		if err := calibration.Validate(sc.MinADC, sc.MaxADC); err != nil {
			add("sensor %s: %w", id, err)
		}
		if sc.MinMoisture < 0 || sc.MinMoisture > 100 {
			add("sensor %s: min_moisture %g outside 0..100", id, sc.MinMoisture)
		}
	}
	for id, s := range c.Initial.LightSchedules {
		if _, err := schedule.FromLightSchedule(s); err != nil {
			add("light schedule %d: %w", id, err)
		}
		if s.Brightness < 0 || s.Brightness > 100 {
			add("light schedule %d: brightness %d outside 0..100", id, s.Brightness)
		}
	}
	for id, s := range c.Initial.StaticLightSchedules {
		if _, err := schedule.FromLightSchedule(s); err != nil {
			add("static light schedule %d: %w", id, err)
		}
	}
	for id, pct := range c.Initial.Lights {
		if pct < 0 || pct > 100 {
			add("light %d: brightness %d outside 0..100", id, pct)
		}
	}
	for stage, secs := range c.Initial.WateringDurations {
		if secs < 0 {
			add("stage %d: negative watering duration", stage)
		}
		if len(c.Pins.Valves) > 0 {
			if _, ok := c.Pins.Valves[stage]; !ok {
				add("stage %d: no valve pin", stage)
			}
		}
	}
	if _, err := schedule.ParseTimeOfDay(c.Initial.WateringAuto.StartTime); err != nil {
		add("watering_auto: %w", err)
	}
	if t := c.Initial.Fan.TargetHumidity; t < models.MinTargetHumidity || t > models.MaxTargetHumidity {
		add("fan target_humidity %g outside %d..%d", t, models.MinTargetHumidity, models.MaxTargetHumidity)
	}

	ctl := c.Control
	for name, d := range map[string]time.Duration{
		"tick_interval":     ctl.TickInterval,
		"persist_interval":  ctl.PersistInterval,
		"status_interval":   ctl.StatusInterval,
		"humidity_window":   ctl.HumidityWindow,
		"history_age":       ctl.HistoryAge,
		"actuation_timeout": ctl.ActuationTimeout,
	} {
		if d <= 0 {
			add("control %s must be positive", name)
		}
	}
	if ctl.FanAlpha <= 0 || ctl.FanAlpha > 1 {
		add("control fan_alpha %g outside (0, 1]", ctl.FanAlpha)
	}
	if ctl.FanBand <= 0 {
		add("control fan_band must be positive")
	}
	if ctl.HistoryCount <= 0 || ctl.ShutoffRetries <= 0 || ctl.TriggerSamples <= 0 || ctl.QueueSize <= 0 {
		add("control history_count, shutoff_retries, trigger_samples and queue_size must be positive")
	}
	if c.Database.SnapshotRetention <= 0 {
		add("database snapshot_retention must be positive")
	}

	return result
}

// InitialState builds the state used before any snapshot exists.
func (c *Config) InitialState() models.SystemState {
	s := models.NewSystemState()
	for id, pct := range c.Initial.Lights {
		s.Lights[id] = pct
	}
	for id := range c.Pins.Lights {
		if _, ok := s.Lights[id]; !ok {
			s.Lights[id] = 0
		}
	}
	for id, on := range c.Initial.StaticLights {
		s.StaticLights[id] = on
	}
	for id := range c.Pins.StaticLights {
		if _, ok := s.StaticLights[id]; !ok {
			s.StaticLights[id] = false
		}
	}
	for id, ls := range c.Initial.LightSchedules {
		s.LightSchedules[id] = ls
	}
	for id, ls := range c.Initial.StaticLightSchedules {
		s.StaticLightSchedules[id] = ls
	}
	for stage, secs := range c.Initial.WateringDurations {
		s.WateringDurations[stage] = secs
	}
	for id, sc := range c.Initial.SensorConfigs {
		s.SensorConfigs[id] = sc
	}
	s.WateringAuto = c.Initial.WateringAuto
	s.Fan = models.FanState{
		TargetHumidity: c.Initial.Fan.TargetHumidity,
		ControlActive:  c.Initial.Fan.ControlActive,
	}
	return s
}

// Stages returns every stage that has a valve pin or a watering duration,
// in ascending order.
func (c *Config) Stages() []int {
	set := make(map[int]struct{})
	for stage := range c.Pins.Valves {
		set[stage] = struct{}{}
	}
	for stage := range c.Initial.WateringDurations {
		set[stage] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}
