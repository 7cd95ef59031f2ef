package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// SensorTopicPrefix is where the soil probes publish. The sensor id is the
// last topic level.
const SensorTopicPrefix = "bodenfeuchte/devices/"

var ErrBadSensorMessage = errors.New("bad sensor message")

// SensorPayload is the JSON a probe sends. ADC is the raw moisture reading;
// Humidity and Temperature come from the probe's air sensor and are absent
// on older firmware.
type SensorPayload struct {
	ADC         *float64 `json:"ADC"`
	Temperature *float64 `json:"Temperature"`
	Humidity    *float64 `json:"Humidity"`
}

// SensorReading is a parsed probe message.
type SensorReading struct {
	SensorID    string
	ADC         float64
	Temperature *float64
	Humidity    *float64
}

// ParseSensorMessage decodes a message received on SensorTopicPrefix.
func ParseSensorMessage(topic string, payload []byte) (SensorReading, error) {
	id, ok := strings.CutPrefix(topic, SensorTopicPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return SensorReading{}, fmt.Errorf("topic %q: %w", topic, ErrBadSensorMessage)
	}

	var p SensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return SensorReading{}, fmt.Errorf("sensor %s: decode: %w: %w", id, ErrBadSensorMessage, err)
	}
	if p.ADC == nil {
		return SensorReading{}, fmt.Errorf("sensor %s: missing ADC: %w", id, ErrBadSensorMessage)
	}

	return SensorReading{
		SensorID:    id,
		ADC:         *p.ADC,
		Temperature: p.Temperature,
		Humidity:    p.Humidity,
	}, nil
}

// SubscribeSensors delivers every well-formed probe message to fn. Bad
// messages are logged and dropped.
func (c *Client) SubscribeSensors(fn func(SensorReading)) error {
	return c.Subscribe(SensorTopicPrefix+"#", sensorHandler(c.logger, fn))
}

func sensorHandler(logger *slog.Logger, fn func(SensorReading)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		r, err := ParseSensorMessage(msg.Topic(), msg.Payload())
		if err != nil {
			logger.Warn("dropping sensor message", "topic", msg.Topic(), "error", err)
			return
		}
		fn(r)
	}
}
