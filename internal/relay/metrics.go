package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics backs the operator status surface with real Prometheus instruments, in the
// idiom of DynamEq6388-netcap's per-type prometheus.CounterVec metrics. Each
// Relay owns its own registry rather than registering against the global
// default one, since a process may construct more than one Relay in tests.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	roomsCreatedTotal prometheus.Counter
	roomsClosedTotal  prometheus.Counter
	spamKicksTotal    prometheus.Counter

	activeRooms       prometheus.Gauge
	activeConnections prometheus.Gauge
}

// NewMetrics builds and registers one Relay's instrument set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claj_relay_connections_total",
			Help: "Transport connections accepted by the relay.",
		}),
		roomsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claj_relay_rooms_created_total",
			Help: "Rooms created since startup.",
		}),
		roomsClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claj_relay_rooms_closed_total",
			Help: "Rooms closed since startup, for any reason.",
		}),
		spamKicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claj_relay_spam_kicks_total",
			Help: "Connections kicked for exceeding the packet-rate limit.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "claj_relay_active_rooms",
			Help: "Rooms currently open.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "claj_relay_active_connections",
			Help: "Connections currently registered with the relay.",
		}),
	}
	m.registry.MustRegister(
		m.connectionsTotal,
		m.roomsCreatedTotal,
		m.roomsClosedTotal,
		m.spamKicksTotal,
		m.activeRooms,
		m.activeConnections,
	)
	return m
}

// Registry exposes the Prometheus registry backing this relay's metrics, for
// cmd/clajrelay to mount behind an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// MetricsRegistry exposes this Relay's Prometheus registry, for cmd/clajrelay
// to mount behind promhttp.HandlerFor.
func (r *Relay) MetricsRegistry() *prometheus.Registry { return r.metrics.Registry() }
