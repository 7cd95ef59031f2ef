package models

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newSnapshotModel(t *testing.T, retention int) *SnapshotModel {
	t.Helper()
	m := &SnapshotModel{DB: newTestDB(t), Retention: retention}
	if err := m.CreateTable(context.Background()); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return m
}

func TestSnapshotLoadEmpty(t *testing.T) {
	m := newSnapshotModel(t, 5)

	_, err := m.Load(context.Background())
	if !errors.Is(err, ErrNoRecord) {
		t.Errorf("got %v, want ErrNoRecord", err)
	}
}

func TestSnapshotSaveLoad(t *testing.T) {
	m := newSnapshotModel(t, 5)
	ctx := context.Background()

	s := NewSystemState()
	s.Lights[1] = 40
	s.StaticLights[2] = true
	s.WateringDurations[2] = 180
	s.SensorConfigs["s1"] = SensorConfig{Stage: 2, MinMoisture: 50, Active: true, MinADC: 1000, MaxADC: 3000}
	s.SensorHistory["s1"] = []Reading{{Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Raw: 1800, Normalized: 40}}
	est := 71.5
	s.Fan = FanState{TargetHumidity: 70, ControlActive: true, SmoothedEstimate: &est, ActuatorOn: true}

	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Lights[1] != 40 {
		t.Errorf("Lights[1]: got %d, want 40", got.Lights[1])
	}
	if !got.StaticLights[2] {
		t.Error("StaticLights[2]: want true")
	}
	if got.SensorConfigs["s1"].Stage != 2 {
		t.Errorf("SensorConfigs[s1].Stage: got %d, want 2", got.SensorConfigs["s1"].Stage)
	}
	if len(got.SensorHistory["s1"]) != 1 || got.SensorHistory["s1"][0].Normalized != 40 {
		t.Errorf("SensorHistory[s1]: got %+v", got.SensorHistory["s1"])
	}
	if got.Fan.SmoothedEstimate == nil || *got.Fan.SmoothedEstimate != 71.5 {
		t.Errorf("Fan.SmoothedEstimate: got %v, want 71.5", got.Fan.SmoothedEstimate)
	}
	if got.WateringActive == nil {
		t.Error("WateringActive should be allocated after load")
	}
}

func TestSnapshotRetention(t *testing.T) {
	m := newSnapshotModel(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		s := NewSystemState()
		s.Lights[1] = i * 10
		if err := m.Save(ctx, s); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	n, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("count: got %d, want 3", n)
	}

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Lights[1] != 50 {
		t.Errorf("newest snapshot: got Lights[1]=%d, want 50", got.Lights[1])
	}
}
