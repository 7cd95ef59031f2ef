package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"furitingoasis/growroom/internal/models"
)

const (
	StatusTopic = "chili-fac/status"
	AlertTopic  = "chili-fac/alerts"
)

// Sender is the publish side of Client.
type Sender interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Status is the payload published on StatusTopic.
type Status struct {
	Timestamp      string       `json:"timestamp"`
	Lights         map[int]int  `json:"lights"`
	StaticLights   map[int]bool `json:"static_lights"`
	WateringActive []int        `json:"watering_active"`
	WateringQueue  []int        `json:"watering_queue"`
	Fan            FanStatus    `json:"fan"`
	Alerts         int          `json:"alerts"`
}

type FanStatus struct {
	On             bool     `json:"on"`
	TargetHumidity float64  `json:"target_humidity"`
	Humidity       *float64 `json:"humidity,omitempty"`
	ControlActive  bool     `json:"control_active"`
	ManualOn       bool     `json:"manual_on"`
}

// FormatStatus creates the status payload for a state snapshot.
func FormatStatus(s *models.SystemState) ([]byte, error) {
	st := Status{
		Timestamp:      s.UpdatedAt.UTC().Format(time.RFC3339),
		Lights:         s.Lights,
		StaticLights:   s.StaticLights,
		WateringActive: slices.Sorted(maps.Keys(s.WateringActive)),
		WateringQueue:  s.WateringQueue,
		Fan: FanStatus{
			On:             s.Fan.ActuatorOn,
			TargetHumidity: s.Fan.TargetHumidity,
			Humidity:       s.Fan.SmoothedEstimate,
			ControlActive:  s.Fan.ControlActive,
			ManualOn:       s.Fan.ManualOn,
		},
		Alerts: len(s.Alerts),
	}
	if st.WateringActive == nil {
		st.WateringActive = []int{}
	}
	if st.WateringQueue == nil {
		st.WateringQueue = []int{}
	}
	return json.Marshal(st)
}

// Publisher sends status snapshots and hardware alerts.
type Publisher struct {
	sender Sender
	logger *slog.Logger
}

func NewPublisher(sender Sender, logger *slog.Logger) *Publisher {
	return &Publisher{sender: sender, logger: logger}
}

// PublishStatus sends a snapshot at QoS 1.
func (p *Publisher) PublishStatus(s *models.SystemState) error {
	payload, err := FormatStatus(s)
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}
	return p.sender.Publish(StatusTopic, 1, false, payload)
}

// Alert publishes a in the background. Failures are logged only.
func (p *Publisher) Alert(a models.Alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		p.logger.Error("format alert", "error", err)
		return
	}
	go func() { // Non-blocking wait for publish to complete
		if err := p.sender.Publish(AlertTopic, 1, false, payload); err != nil {
			p.logger.Error("publish alert", "alert", a.ID, "error", err)
		}
	}()
}
