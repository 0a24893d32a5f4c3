package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client runtime.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Dispatcher metrics
	EventsDispatched *prometheus.CounterVec
	EventsUnhandled  *prometheus.CounterVec
	HandlerErrors    *prometheus.CounterVec
	FramesMalformed  prometheus.Counter

	// Push channel metrics
	ChannelConnections prometheus.Gauge
	ChannelErrors      *prometheus.CounterVec
	ChannelFrames      *prometheus.CounterVec

	// Session metrics
	SessionsActive *prometheus.GaugeVec

	// Generation metrics
	StateTransitions *prometheus.CounterVec
	ProgressRejected prometheus.Counter

	// Backend metrics
	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec

	// Diagnostics HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	startTime time.Time
	snapshot  MetricsSnapshot
	mu        sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON diagnostics API
type MetricsSnapshot struct {
	EventsDispatched  int64   `json:"events_dispatched"`
	HandlerErrors     int64   `json:"handler_errors"`
	MalformedFrames   int64   `json:"malformed_frames"`
	ActiveConnections int64   `json:"active_connections"`
	Transitions       int64   `json:"transitions"`
	BackendCalls      int64   `json:"backend_calls"`
	BackendFailures   int64   `json:"backend_failures"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector with its own registry, so several
// runtimes (and tests) can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_events_dispatched_total",
				Help: "Total number of events dispatched, by event type",
			},
			[]string{"type"},
		),
		EventsUnhandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_events_unhandled_total",
				Help: "Events dispatched with no registered handler",
			},
			[]string{"type"},
		),
		HandlerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_handler_errors_total",
				Help: "Handler invocations that returned an error or panicked",
			},
			[]string{"type"},
		),
		FramesMalformed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "client_frames_malformed_total",
				Help: "Inbound frames dropped for a missing or unreadable type tag",
			},
		),

		ChannelConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "client_channel_connections",
				Help: "Number of open push channels",
			},
		),
		ChannelErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_channel_errors_total",
				Help: "Push channel failures by reason",
			},
			[]string{"reason"},
		),
		ChannelFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_channel_frames_total",
				Help: "Push channel frames by direction",
			},
			[]string{"direction"},
		),

		SessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "client_sessions_active",
				Help: "Registered session instances by kind",
			},
			[]string{"kind"},
		),

		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_generation_transitions_total",
				Help: "Generation state machine transitions",
			},
			[]string{"from", "to"},
		),
		ProgressRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "client_generation_progress_rejected_total",
				Help: "Progress events rejected by validation",
			},
		),

		BackendCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_backend_calls_total",
				Help: "REST collaborator calls",
			},
			[]string{"operation", "status"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "client_backend_duration_seconds",
				Help:    "REST collaborator call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_diag_http_requests_total",
				Help: "Diagnostics HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "client_diag_http_request_duration_seconds",
				Help:    "Diagnostics HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "client_uptime_seconds",
			Help: "Client runtime uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDispatch records one dispatched event.
func (m *Metrics) RecordDispatch(eventType string, handled bool) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(eventType).Inc()
	if !handled {
		m.EventsUnhandled.WithLabelValues(eventType).Inc()
	}
	m.mu.Lock()
	m.snapshot.EventsDispatched++
	m.mu.Unlock()
}

// RecordHandlerError records one failed handler invocation.
func (m *Metrics) RecordHandlerError(eventType string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(eventType).Inc()
	m.mu.Lock()
	m.snapshot.HandlerErrors++
	m.mu.Unlock()
}

// RecordMalformedFrame records a dropped frame.
func (m *Metrics) RecordMalformedFrame() {
	if m == nil {
		return
	}
	m.FramesMalformed.Inc()
	m.mu.Lock()
	m.snapshot.MalformedFrames++
	m.mu.Unlock()
}

// RecordFrame records a frame crossing the push channel.
func (m *Metrics) RecordFrame(direction string) {
	if m == nil {
		return
	}
	m.ChannelFrames.WithLabelValues(direction).Inc()
}

// ChannelOpened increments open push channels.
func (m *Metrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.ChannelConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// ChannelClosed decrements open push channels.
func (m *Metrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.ChannelConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// RecordChannelError records a channel failure.
func (m *Metrics) RecordChannelError(reason string) {
	if m == nil {
		return
	}
	m.ChannelErrors.WithLabelValues(reason).Inc()
}

// SetSessionsActive sets the number of registered sessions of one kind.
func (m *Metrics) SetSessionsActive(kind string, count int) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(kind).Set(float64(count))
}

// RecordTransition records a state machine transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.mu.Lock()
	m.snapshot.Transitions++
	m.mu.Unlock()
}

// RecordProgressRejected records a rejected progress event.
func (m *Metrics) RecordProgressRejected() {
	if m == nil {
		return
	}
	m.ProgressRejected.Inc()
}

// RecordBackendCall records a REST collaborator call.
func (m *Metrics) RecordBackendCall(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendCalls.WithLabelValues(operation, status).Inc()
	m.BackendDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.BackendCalls++
	if status != "success" {
		m.snapshot.BackendFailures++
	}
	m.mu.Unlock()
}

// RecordHTTPRequest records a diagnostics HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Snapshot returns the current values for the JSON diagnostics API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
