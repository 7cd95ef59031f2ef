package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// Pins maps outputs to Raspberry Pi header pins ("37", "16", ...).
type Pins struct {
	Lights       map[int]string
	StaticLights map[int]string
	Valves       map[int]string
	Pump         string
	Fan          string

	// ActiveLow is set for relay boards that energise on a low level.
	ActiveLow bool
}

// Raspi drives relays and PWM lights through a gobot robot on the Pi.
type Raspi struct {
	mu sync.Mutex

	robot     *gobot.Robot
	activeLow bool

	lights map[int]*gpio.LedDriver
	static map[int]*gpio.RelayDriver
	valves map[int]*gpio.RelayDriver
	pump   *gpio.RelayDriver
	fan    *gpio.RelayDriver
	logger *slog.Logger
}

func NewRaspi(pins Pins, logger *slog.Logger) (*Raspi, error) {
	if pins.Pump == "" {
		return nil, fmt.Errorf("hardware: pump pin not configured")
	}

	r := raspi.NewAdaptor()
	h := &Raspi{
		activeLow: pins.ActiveLow,
		lights:    make(map[int]*gpio.LedDriver),
		static:    make(map[int]*gpio.RelayDriver),
		valves:    make(map[int]*gpio.RelayDriver),
		pump:      gpio.NewRelayDriver(r, pins.Pump),
		logger:    logger,
	}

	devices := []gobot.Device{h.pump}
	if pins.Fan != "" {
		h.fan = gpio.NewRelayDriver(r, pins.Fan)
		devices = append(devices, h.fan)
	}
	for id, pin := range pins.Lights {
		d := gpio.NewLedDriver(r, pin)
		h.lights[id] = d
		devices = append(devices, d)
	}
	for id, pin := range pins.StaticLights {
		d := gpio.NewRelayDriver(r, pin)
		h.static[id] = d
		devices = append(devices, d)
	}
	for stage, pin := range pins.Valves {
		d := gpio.NewRelayDriver(r, pin)
		h.valves[stage] = d
		devices = append(devices, d)
	}

	h.robot = gobot.NewRobot("GrowroomController",
		[]gobot.Connection{r},
		devices,
	)
	if err := h.robot.Start(false); err != nil {
		return nil, fmt.Errorf("hardware: start robot: %w", err)
	}

	logger.Info("raspi outputs ready",
		"lights", len(h.lights), "static_lights", len(h.static), "valves", len(h.valves), "active_low", h.activeLow)
	return h, nil
}

func (h *Raspi) relay(d *gpio.RelayDriver, on bool) error {
	if h.activeLow {
		on = !on
	}
	if on {
		return d.On()
	}
	return d.Off()
}

func (h *Raspi) SetValve(_ context.Context, stage int, open bool) error {
	d, ok := h.valves[stage]
	if !ok {
		return fmt.Errorf("hardware: no valve for stage %d", stage)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.relay(d, open)
}

func (h *Raspi) SetPump(_ context.Context, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.relay(h.pump, on)
}

func (h *Raspi) SetLightBrightness(_ context.Context, id, percent int) error {
	d, ok := h.lights[id]
	if !ok {
		return fmt.Errorf("hardware: no PWM light %d", id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return d.Brightness(percentToLevel(percent))
}

func (h *Raspi) SetStaticLight(_ context.Context, id int, on bool) error {
	d, ok := h.static[id]
	if !ok {
		return fmt.Errorf("hardware: no static light %d", id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.relay(d, on)
}

func (h *Raspi) SetFan(_ context.Context, on bool) error {
	if h.fan == nil {
		return fmt.Errorf("hardware: fan pin not configured")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.relay(h.fan, on)
}

// Close switches every output off and stops the robot.
func (h *Raspi) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var result error
	for stage, d := range h.valves {
		if err := h.relay(d, false); err != nil {
			result = multierror.Append(result, fmt.Errorf("valve %d: %w", stage, err))
		}
	}
	if err := h.relay(h.pump, false); err != nil {
		result = multierror.Append(result, fmt.Errorf("pump: %w", err))
	}
	if h.fan != nil {
		if err := h.relay(h.fan, false); err != nil {
			result = multierror.Append(result, fmt.Errorf("fan: %w", err))
		}
	}
	for id, d := range h.static {
		if err := h.relay(d, false); err != nil {
			result = multierror.Append(result, fmt.Errorf("static light %d: %w", id, err))
		}
	}
	for id, d := range h.lights {
		if err := d.Brightness(0); err != nil {
			result = multierror.Append(result, fmt.Errorf("light %d: %w", id, err))
		}
	}
	if err := h.robot.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop robot: %w", err))
	}
	return result
}

// percentToLevel maps 0..100 onto the 8-bit PWM duty cycle.
func percentToLevel(percent int) byte {
	switch {
	case percent <= 0:
		return 0
	case percent >= 100:
		return 255
	}
	return byte(percent * 255 / 100)
}
