package controller

import (
	"time"

	"furitingoasis/growroom/internal/models"
)

// Event is anything the control loop consumes.
type Event interface {
	eventName() string
}

// Tick drives schedules, watering deadlines, the fan and periodic
// persistence.
type Tick struct {
	Time time.Time
}

// SensorMessage is one probe report. Raw is the moisture ADC reading;
// Humidity and Temperature are nil when the probe did not send them.
type SensorMessage struct {
	SensorID    string
	Raw         float64
	Humidity    *float64
	Temperature *float64
	Time        time.Time
}

// TriggerCheck starts watering for every pending sensor trigger.
type TriggerCheck struct {
	Time time.Time
}

type commandEvent struct {
	cmd   Command
	reply chan error
}

type snapshotQuery struct {
	reply chan models.SystemState
}

func (Tick) eventName() string          { return "tick" }
func (SensorMessage) eventName() string { return "sensor_message" }
func (TriggerCheck) eventName() string  { return "trigger_check" }
func (snapshotQuery) eventName() string { return "snapshot" }

func (e commandEvent) eventName() string {
	return "command_" + e.cmd.commandName()
}
