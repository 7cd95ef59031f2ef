package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SensorMessage(true)
	m.Event("tick", time.Millisecond)
	m.HardwareFault("pump")
	m.WateringStarted("manual", 1)
	m.WateringIdle()
	m.Fan(true, nil)
	m.SnapshotWrite(nil)

	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Errorf("got %d", rr.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.SensorMessage(true)
	m.SensorMessage(true)
	m.SensorMessage(false)
	if got := testutil.ToFloat64(m.sensorMessages.WithLabelValues("accepted")); got != 2 {
		t.Errorf("accepted: got %v, want 2", got)
	}

	m.WateringStarted("sensor", 2)
	if got := testutil.ToFloat64(m.wateringStage); got != 2 {
		t.Errorf("stage gauge: got %v", got)
	}
	m.WateringIdle()
	if got := testutil.ToFloat64(m.wateringStage); got != 0 {
		t.Errorf("stage gauge after idle: got %v", got)
	}

	est := 68.5
	m.Fan(true, &est)
	if testutil.ToFloat64(m.fanOn) != 1 || testutil.ToFloat64(m.humidityEstimate) != 68.5 {
		t.Error("fan gauges not updated")
	}

	m.SnapshotWrite(errors.New("disk full"))
	if got := testutil.ToFloat64(m.snapshotWrites.WithLabelValues("error")); got != 1 {
		t.Errorf("snapshot errors: got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.HardwareFault("valve")

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := httptest.NewServer(m.Instrument(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), `growroom_hardware_faults_total{output="valve"} 1`) {
		t.Errorf("metrics output missing hardware fault counter:\n%s", body)
	}
}
