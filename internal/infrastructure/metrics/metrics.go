package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics defines our Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	roomsCreated    *prometheus.CounterVec
	roomJoins       *prometheus.CounterVec
	gatewaySockets  prometheus.Gauge
	realtimeDropped *prometheus.CounterVec
	framesRejected  *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		roomsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_rooms_created_total",
			Help: "Rooms created, by game.",
		}, []string{"game"}),
		roomJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_room_joins_total",
			Help: "Join-by-code attempts, by result.",
		}, []string{"result"}),
		gatewaySockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomsync_gateway_sockets",
			Help: "Open realtime gateway websockets.",
		}),
		realtimeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_realtime_dropped_total",
			Help: "Realtime events dropped because a subscriber buffer was full.",
		}, []string{"transport"}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_gateway_frames_rejected_total",
			Help: "Gateway frames rejected, by reason.",
		}, []string{"reason"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomsync_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.roomsCreated,
		m.roomJoins,
		m.gatewaySockets,
		m.realtimeDropped,
		m.framesRejected,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) RoomCreated(gameID string) {
	if m == nil {
		return
	}
	m.roomsCreated.WithLabelValues(gameID).Inc()
}

// RoomJoin records a join attempt; result is "ok", "not_found" or
// "already_started".
func (m *Metrics) RoomJoin(result string) {
	if m == nil {
		return
	}
	m.roomJoins.WithLabelValues(result).Inc()
}

func (m *Metrics) SocketOpened() {
	if m == nil {
		return
	}
	m.gatewaySockets.Inc()
}

func (m *Metrics) SocketClosed() {
	if m == nil {
		return
	}
	m.gatewaySockets.Dec()
}

// Dropped is the counter a transport increments for each discarded event.
func (m *Metrics) Dropped(transport string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.realtimeDropped.WithLabelValues(transport)
}

func (m *Metrics) FrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}
