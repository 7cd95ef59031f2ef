package models

import (
	"fmt"
	"testing"
	"time"
)

func TestCloneIsDeep(t *testing.T) {
	s := NewSystemState()
	s.Lights[1] = 10
	s.SensorHistory["a"] = []Reading{{Raw: 1, Normalized: 2}}
	s.WateringQueue = []int{1}
	est := 60.0
	s.Fan.SmoothedEstimate = &est

	c := s.Clone()
	c.Lights[1] = 99
	c.SensorHistory["a"][0].Normalized = 99
	c.WateringQueue[0] = 9
	*c.Fan.SmoothedEstimate = 99

	if s.Lights[1] != 10 {
		t.Errorf("Lights mutated through clone: %d", s.Lights[1])
	}
	if s.SensorHistory["a"][0].Normalized != 2 {
		t.Errorf("SensorHistory mutated through clone: %v", s.SensorHistory["a"][0].Normalized)
	}
	if s.WateringQueue[0] != 1 {
		t.Errorf("WateringQueue mutated through clone: %v", s.WateringQueue)
	}
	if *s.Fan.SmoothedEstimate != 60 {
		t.Errorf("SmoothedEstimate mutated through clone: %v", *s.Fan.SmoothedEstimate)
	}
}

func TestCloneAllocatesNilMaps(t *testing.T) {
	var s SystemState
	c := s.Clone()
	c.Lights[1] = 1 // must not panic
	c.WateringActive[1] = WateringRun{}
}

func TestStagesSorted(t *testing.T) {
	s := NewSystemState()
	s.WateringDurations[3] = 10
	s.WateringDurations[1] = 10
	s.WateringDurations[2] = 10

	got := fmt.Sprint(s.Stages())
	if got != "[1 2 3]" {
		t.Errorf("Stages: got %s, want [1 2 3]", got)
	}
}

func TestAddAlertBounded(t *testing.T) {
	s := NewSystemState()
	for i := 0; i < MaxAlerts+5; i++ {
		s.AddAlert(Alert{ID: fmt.Sprint(i), Time: time.Unix(int64(i), 0)})
	}
	if len(s.Alerts) != MaxAlerts {
		t.Fatalf("len: got %d, want %d", len(s.Alerts), MaxAlerts)
	}
	if s.Alerts[0].ID != "5" {
		t.Errorf("oldest kept alert: got %s, want 5", s.Alerts[0].ID)
	}
}
