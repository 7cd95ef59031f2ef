package mqtt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"furitingoasis/growroom/internal/models"
)

func TestParseSensorMessage(t *testing.T) {
	r, err := ParseSensorMessage("bodenfeuchte/devices/probe-3", []byte(`{"ADC": 2100, "Temperature": 21.5, "Humidity": 68.2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.SensorID != "probe-3" || r.ADC != 2100 {
		t.Errorf("got %+v", r)
	}
	if r.Humidity == nil || *r.Humidity != 68.2 {
		t.Errorf("humidity: got %v", r.Humidity)
	}
	if r.Temperature == nil || *r.Temperature != 21.5 {
		t.Errorf("temperature: got %v", r.Temperature)
	}

	r, err = ParseSensorMessage("bodenfeuchte/devices/old", []byte(`{"ADC": 900}`))
	if err != nil {
		t.Fatalf("ADC only: %v", err)
	}
	if r.Humidity != nil || r.Temperature != nil {
		t.Errorf("absent fields should stay nil: %+v", r)
	}
}

func TestParseSensorMessageRejects(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"other topic", "farm/sensors/x", `{"ADC": 1}`},
		{"no id", "bodenfeuchte/devices/", `{"ADC": 1}`},
		{"nested id", "bodenfeuchte/devices/a/b", `{"ADC": 1}`},
		{"not json", "bodenfeuchte/devices/a", `ADC=1`},
		{"missing ADC", "bodenfeuchte/devices/a", `{"Humidity": 50}`},
		{"ADC not a number", "bodenfeuchte/devices/a", `{"ADC": "high"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSensorMessage(tt.topic, []byte(tt.payload))
			if !errors.Is(err, ErrBadSensorMessage) {
				t.Errorf("got %v, want ErrBadSensorMessage", err)
			}
		})
	}
}

type fakeSender struct {
	mu       sync.Mutex
	topics   []string
	qos      []byte
	payloads [][]byte
	err      error
	sent     chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan struct{}, 10)}
}

func (f *fakeSender) Publish(topic string, qos byte, _ bool, payload []byte) error {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.qos = append(f.qos, qos)
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return f.err
}

func TestPublishStatus(t *testing.T) {
	f := newFakeSender()
	p := NewPublisher(f, slog.New(slog.NewTextHandler(io.Discard, nil)))

	est := 71.5
	s := models.NewSystemState()
	s.Lights[1] = 80
	s.WateringActive[2] = models.WateringRun{Deadline: time.Now()}
	s.Fan = models.FanState{TargetHumidity: 70, ControlActive: true, ActuatorOn: true, SmoothedEstimate: &est}

	if err := p.PublishStatus(&s); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if f.topics[0] != StatusTopic || f.qos[0] != 1 {
		t.Errorf("got topic %q qos %d", f.topics[0], f.qos[0])
	}

	var got Status
	if err := json.Unmarshal(f.payloads[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Lights[1] != 80 || len(got.WateringActive) != 1 || got.WateringActive[0] != 2 {
		t.Errorf("payload: %+v", got)
	}
	if !got.Fan.On || got.Fan.Humidity == nil || *got.Fan.Humidity != 71.5 {
		t.Errorf("fan: %+v", got.Fan)
	}
	if got.WateringQueue == nil {
		t.Error("empty queue should encode as [] not null")
	}
}

func TestAlertIsAsync(t *testing.T) {
	f := newFakeSender()
	f.err = errors.New("broker down")
	p := NewPublisher(f, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p.Alert(models.Alert{ID: "a1", Kind: "hardware", Message: "valve 2 stuck"})

	select {
	case <-f.sent:
	case <-time.After(time.Second):
		t.Fatal("alert was not published")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topics[0] != AlertTopic {
		t.Errorf("topic: got %q", f.topics[0])
	}
	var a models.Alert
	if err := json.Unmarshal(f.payloads[0], &a); err != nil || a.ID != "a1" {
		t.Errorf("payload: %s (%v)", f.payloads[0], err)
	}
}

func TestNewClientWaitsForLateBroker(t *testing.T) {
	// A port nobody listens on stands in for a broker that is still booting.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	c, err := NewClient(Config{
		BrokerURL:     "tcp://" + addr,
		ClientID:      "growroom-test",
		AutoReconnect: true,
		MaxRetries:    1,
		RetryInterval: 20 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("an unreachable broker should not fail start-up: %v", err)
	}
	defer c.Close()

	if c.IsConnected() {
		t.Fatal("nothing is listening, the client cannot be connected")
	}
	if err := c.SubscribeSensors(func(SensorReading) {}); err != nil {
		t.Errorf("subscribing while disconnected: %v", err)
	}
	c.mu.Lock()
	_, ok := c.subs[SensorTopicPrefix+"#"]
	c.mu.Unlock()
	if !ok {
		t.Error("the sensor subscription should be kept for onConnect")
	}
}

func TestNewClientRequiresBroker(t *testing.T) {
	_, err := NewClient(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Error("expected an error without a broker url")
	}
}
