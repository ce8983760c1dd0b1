// Package metrics exposes relay and sensor state as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/eventbus"
)

const namespace = "relayd"

type Metrics struct {
	registry *prometheus.Registry

	relayState   prometheus.Gauge
	sensorValue  prometheus.Gauge
	transitions  *prometheus.CounterVec
	sampleErrors prometheus.Counter
	clockSynced  prometheus.Gauge
	configApply  *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the metrics on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_state",
			Help:      "Current relay state (1 on, 0 off).",
		}),
		sensorValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last successfully sampled sensor value.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_transitions_total",
			Help:      "Relay transitions by source.",
		}, []string{"source"}),
		sampleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Failed sensor samples.",
		}),
		clockSynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_synced",
			Help:      "Whether the last time sync attempt succeeded (1) or failed (0).",
		}),
		configApply: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_changes_total",
			Help:      "Settings changes by source.",
		}, []string{"source"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.relayState,
		m.sensorValue,
		m.transitions,
		m.sampleErrors,
		m.clockSynced,
		m.configApply,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Subscribe updates the metrics from bus events.
func (m *Metrics) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeRelay, m.handleEvent)
	bus.Subscribe(eventbus.EventTypeSample, m.handleEvent)
	bus.Subscribe(eventbus.EventTypeClock, m.handleEvent)
	bus.Subscribe(eventbus.EventTypeConfig, m.handleEvent)
}

func (m *Metrics) handleEvent(e eventbus.Event) {
	switch p := e.Data.(type) {
	case eventbus.RelayChanged:
		m.SetRelayState(p.State)
		m.transitions.WithLabelValues(p.Source).Inc()
	case eventbus.SampleTaken:
		if p.Err != nil {
			m.sampleErrors.Inc()
			return
		}
		m.sensorValue.Set(p.Value)
	case eventbus.ClockSynced:
		if p.Err != nil {
			m.clockSynced.Set(0)
			return
		}
		m.clockSynced.Set(1)
	case eventbus.ConfigChanged:
		m.configApply.WithLabelValues(p.Source).Inc()
	}
}

// SetRelayState sets the relay gauge.
func (m *Metrics) SetRelayState(s actuation.State) {
	if s == actuation.On {
		m.relayState.Set(1)
		return
	}
	m.relayState.Set(0)
}

// SetClockSynced sets the clock gauge, used for the initial state.
func (m *Metrics) SetClockSynced(synced bool) {
	if synced {
		m.clockSynced.Set(1)
		return
	}
	m.clockSynced.Set(0)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request count and duration for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
