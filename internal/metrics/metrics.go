// Package metrics exposes the controller's Prometheus collectors. All
// methods are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	sensorMessages    *prometheus.CounterVec
	eventDuration     *prometheus.HistogramVec
	hardwareFaults    *prometheus.CounterVec
	wateringStarts    *prometheus.CounterVec
	wateringStage     prometheus.Gauge
	fanOn             prometheus.Gauge
	humidityEstimate  prometheus.Gauge
	snapshotWrites    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sensorMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growroom_sensor_messages_total",
			Help: "Sensor messages received, by result (accepted, dropped).",
		}, []string{"result"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "growroom_event_duration_seconds",
			Help:    "Time the control loop spent handling an event, by event type.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"event"}),
		hardwareFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growroom_hardware_faults_total",
			Help: "Actuations that failed or timed out, by output.",
		}, []string{"output"}),
		wateringStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growroom_watering_starts_total",
			Help: "Watering runs started, by source (sensor, schedule, manual).",
		}, []string{"source"}),
		wateringStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "growroom_watering_stage",
			Help: "Stage currently watering, 0 when the pump is idle.",
		}),
		fanOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "growroom_fan_on",
			Help: "Fan actuator state (1 on, 0 off).",
		}),
		humidityEstimate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "growroom_humidity_estimate_percent",
			Help: "Smoothed cross-sensor air humidity fed to the fan regulator.",
		}),
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growroom_snapshot_writes_total",
			Help: "State snapshot writes, by result (ok, error).",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.sensorMessages,
		m.eventDuration,
		m.hardwareFaults,
		m.wateringStarts,
		m.wateringStage,
		m.fanOn,
		m.humidityEstimate,
		m.snapshotWrites,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Instrument counts requests and their latency. The route label is the
// matched ServeMux pattern so path values do not explode the label set.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SensorMessage(accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "dropped"
	}
	m.sensorMessages.WithLabelValues(result).Inc()
}

func (m *Metrics) Event(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.eventDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) HardwareFault(output string) {
	if m == nil {
		return
	}
	m.hardwareFaults.WithLabelValues(output).Inc()
}

func (m *Metrics) WateringStarted(source string, stage int) {
	if m == nil {
		return
	}
	m.wateringStarts.WithLabelValues(source).Inc()
	m.wateringStage.Set(float64(stage))
}

func (m *Metrics) WateringIdle() {
	if m == nil {
		return
	}
	m.wateringStage.Set(0)
}

func (m *Metrics) Fan(on bool, estimate *float64) {
	if m == nil {
		return
	}
	if on {
		m.fanOn.Set(1)
	} else {
		m.fanOn.Set(0)
	}
	if estimate != nil {
		m.humidityEstimate.Set(*estimate)
	}
}

func (m *Metrics) SnapshotWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotWrites.WithLabelValues("error").Inc()
		return
	}
	m.snapshotWrites.WithLabelValues("ok").Inc()
}
