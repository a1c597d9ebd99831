package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Inbound stream counters
	MessagesReceived   atomic.Uint64
	MessagesDropped    atomic.Uint64
	DetectionBatches   atomic.Uint64
	ViolationsReceived atomic.Uint64

	// Display counters
	PredictionsDisplayed atomic.Uint64
	FramesRendered       atomic.Uint64
	FramesEncoded        atomic.Uint64
	EncodeErrors         atomic.Uint64

	// Connection tracking
	ReconnectAttempts atomic.Uint64
	ConnectionState   atomic.Uint64 // see ConnectionStateValue
	HealthConnected   atomic.Uint64 // 0 = not connected, 1 = connected

	// Stream client tracking
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	fpsBits atomic.Uint64 // float64 bits of the current render FPS

	// Prometheus collectors
	registry *prometheus.Registry
}

// Connection state values reported by ppe_connection_state.
const (
	ConnectionDisconnected uint64 = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionReconnecting
)

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Stream metrics
	m.counter("ppe_messages_received_total", "Total messages read from the detection stream", &m.MessagesReceived)
	m.counter("ppe_messages_dropped_total", "Total malformed or unrecognized messages dropped", &m.MessagesDropped)
	m.counter("ppe_detection_batches_total", "Total detection batches received", &m.DetectionBatches)
	m.counter("ppe_violations_received_total", "Total PPE_VIOLATION notifications received", &m.ViolationsReceived)

	// Display metrics
	m.counter("ppe_predictions_displayed_total", "Total predictions that passed display filtering", &m.PredictionsDisplayed)
	m.counter("ppe_frames_rendered_total", "Total overlay frames rendered", &m.FramesRendered)
	m.counter("ppe_frames_encoded_total", "Total overlay frames encoded for streaming", &m.FramesEncoded)
	m.counter("ppe_encode_errors_total", "Total overlay frame encode errors", &m.EncodeErrors)

	m.gauge("ppe_render_fps", "Current overlay render rate",
		func() float64 { return m.FPS() })

	// Connection metrics
	m.counter("ppe_reconnect_attempts_total", "Total scheduled reconnect attempts", &m.ReconnectAttempts)
	m.gauge("ppe_connection_state", "Detection stream state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		func() float64 { return float64(m.ConnectionState.Load()) })
	m.gauge("ppe_health_connected", "Backend health (0=not connected, 1=connected)",
		func() float64 { return float64(m.HealthConnected.Load()) })

	// Client metrics
	m.gauge("ppe_active_clients", "Number of active stream clients",
		func() float64 { return float64(m.ActiveClients.Load()) })
	m.counter("ppe_total_clients", "Total stream clients connected", &m.TotalClients)
}

// SetFPS stores the current render rate.
func (m *Metrics) SetFPS(fps float64) {
	m.fpsBits.Store(math.Float64bits(fps))
}

// FPS returns the last stored render rate.
func (m *Metrics) FPS() float64 {
	return math.Float64frombits(m.fpsBits.Load())
}

// SetHealthConnected records whether the backend health check is passing.
func (m *Metrics) SetHealthConnected(ok bool) {
	if ok {
		m.HealthConnected.Store(1)
	} else {
		m.HealthConnected.Store(0)
	}
}

// ClientConnected counts a new stream client.
func (m *Metrics) ClientConnected() {
	m.ActiveClients.Add(1)
	m.TotalClients.Add(1)
}

// ClientDisconnected releases a stream client.
func (m *Metrics) ClientDisconnected() {
	for {
		cur := m.ActiveClients.Load()
		if cur == 0 || m.ActiveClients.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
