// Package metrics exposes Prometheus instrumentation for the relay gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics is a
// valid no-op recorder so callers never guard their instrumentation sites.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	FramesTotal        *prometheus.CounterVec
	PartsDroppedTotal  prometheus.Counter
	InterruptsTotal    prometheus.Counter
	ReconnectsTotal    prometheus.Counter
	LegReplacedTotal   prometheus.Counter
	ToolCallsTotal     *prometheus.CounterVec
	HandshakeFailTotal prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ambience"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of active relay sessions",
	})

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Relay session duration in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames relayed, by kind and direction",
		},
		[]string{"kind", "direction"},
	)

	partsDroppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parts_dropped_total",
		Help:      "Generated parts dropped while a session was interrupted",
	})

	interruptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interrupts_total",
		Help:      "Client interrupt requests",
	})

	reconnectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_reconnects_total",
		Help:      "Upstream reconnect attempts triggered by the audio path",
	})

	legReplacedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_leg_replacements_total",
		Help:      "Upstream leg replacements caused by config updates",
	})

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched for the model",
		},
		[]string{"tool"},
	)

	handshakeFailTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_handshake_failures_total",
		Help:      "Failed upstream handshakes",
	})

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		},
		[]string{"route", "method"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		partsDroppedTotal,
		interruptsTotal,
		reconnectsTotal,
		legReplacedTotal,
		toolCallsTotal,
		handshakeFailTotal,
		requestsTotal,
		requestDuration,
	)

	return &Metrics{
		registry:           registry,
		SessionsActive:     sessionsActive,
		SessionsTotal:      sessionsTotal,
		SessionDuration:    sessionDuration,
		FramesTotal:        framesTotal,
		PartsDroppedTotal:  partsDroppedTotal,
		InterruptsTotal:    interruptsTotal,
		ReconnectsTotal:    reconnectsTotal,
		LegReplacedTotal:   legReplacedTotal,
		ToolCallsTotal:     toolCallsTotal,
		HandshakeFailTotal: handshakeFailTotal,
		RequestsTotal:      requestsTotal,
		RequestDuration:    requestDuration,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// FrameRelayed records one relayed frame. Direction is "in" for client to
// upstream and "out" for upstream to client.
func (m *Metrics) FrameRelayed(kind, direction string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind, direction).Inc()
}

func (m *Metrics) PartDropped() {
	if m == nil {
		return
	}
	m.PartsDroppedTotal.Inc()
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.InterruptsTotal.Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

func (m *Metrics) LegReplaced() {
	if m == nil {
		return
	}
	m.LegReplacedTotal.Inc()
}

func (m *Metrics) ToolDispatched(tool string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool).Inc()
}

func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.HandshakeFailTotal.Inc()
}

func (m *Metrics) RequestServed(route, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, status).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
