package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Room metrics
	RoomsActive   prometheus.Gauge
	RoomsCreated  prometheus.Counter
	RoomsEvicted  prometheus.Counter
	MembersActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSDropped     *prometheus.CounterVec

	// Execution metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionsRunning prometheus.Gauge

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry, so several
// servers (and tests) can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesphere_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesphere_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"method", "path"},
		),

		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codesphere_rooms_active",
			Help: "Number of rooms currently held in memory",
		}),
		RoomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "codesphere_rooms_created_total",
			Help: "Total number of rooms created on first join",
		}),
		RoomsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "codesphere_rooms_evicted_total",
			Help: "Total number of rooms evicted after the grace period",
		}),
		MembersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codesphere_room_members_active",
			Help: "Number of members across all rooms",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codesphere_ws_connections",
			Help: "Number of active WebSocket connections",
		}),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesphere_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		WSDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesphere_ws_dropped_total",
				Help: "Frames dropped, by reason",
			},
			[]string{"reason"},
		),

		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesphere_executions_total",
				Help: "Total number of execution requests by language and outcome",
			},
			[]string{"language", "outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesphere_execution_duration_seconds",
				Help:    "Wall-clock execution duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 8, 10, 15},
			},
			[]string{"language"},
		),
		ExecutionsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codesphere_executions_running",
			Help: "Number of execution requests holding a slot",
		}),
	}

	m.Uptime = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "codesphere_uptime_seconds",
		Help: "Backend uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry exposes the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordWSDrop records a frame that was not delivered or not accepted
func (m *Metrics) RecordWSDrop(reason string) {
	m.WSDropped.WithLabelValues(reason).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// RecordExecution records a finished execution request
func (m *Metrics) RecordExecution(language, outcome string, duration time.Duration) {
	m.Executions.WithLabelValues(language, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(duration.Seconds())
}

// ExecutionStarted marks an execution as holding a runner slot
func (m *Metrics) ExecutionStarted() {
	m.ExecutionsRunning.Inc()
}

// ExecutionFinished releases the running gauge
func (m *Metrics) ExecutionFinished() {
	m.ExecutionsRunning.Dec()
}

// RoomCreated records a room coming into existence
func (m *Metrics) RoomCreated() {
	m.RoomsCreated.Inc()
	m.RoomsActive.Inc()
}

// RoomEvicted records a room removed by the lifecycle manager
func (m *Metrics) RoomEvicted() {
	m.RoomsEvicted.Inc()
	m.RoomsActive.Dec()
}

// MemberJoined records a member entering a room
func (m *Metrics) MemberJoined() {
	m.MembersActive.Inc()
}

// MemberLeft records a member leaving a room
func (m *Metrics) MemberLeft() {
	m.MembersActive.Dec()
}
