package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors. Each instance registers
// against its own registerer so tests and multiple apps never collide.
type Metrics struct {
	ActiveConnections   *prometheus.GaugeVec
	ConnectionEvictions prometheus.Counter
	MessagesRouted      *prometheus.CounterVec
	MessagesRejected    *prometheus.CounterVec
	SafetyFlags         *prometheus.CounterVec
	RouteDuration       prometheus.Histogram
	PersistenceFailures prometheus.Counter
	RateLimited         *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "campusrelay_active_connections",
			Help: "Current number of registered connections",
		}, []string{"registry"}),
		ConnectionEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "campusrelay_connection_evictions_total",
			Help: "Total number of connections replaced by a reconnect of the same identity",
		}),
		MessagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusrelay_messages_routed_total",
			Help: "Total number of routed messages by delivery status",
		}, []string{"status"}),
		MessagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusrelay_messages_rejected_total",
			Help: "Total number of rejected payloads by reason",
		}, []string{"reason"}),
		SafetyFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusrelay_safety_flags_total",
			Help: "Total number of safety annotations by kind",
		}, []string{"kind"}),
		RouteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusrelay_route_duration_seconds",
			Help:    "Time to route one inbound payload to a terminal state",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "campusrelay_persistence_failures_total",
			Help: "Total number of failed message persistence attempts",
		}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusrelay_rate_limited_total",
			Help: "Total number of requests refused by the rate gate",
		}, []string{"surface"}),
	}
}

func (m *Metrics) SetActiveConnections(registry string, n int) {
	m.ActiveConnections.WithLabelValues(registry).Set(float64(n))
}

func (m *Metrics) IncrementEvictions() {
	m.ConnectionEvictions.Inc()
}

func (m *Metrics) ObserveRouted(status string, elapsed time.Duration) {
	m.MessagesRouted.WithLabelValues(status).Inc()
	m.RouteDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRejected(reason string, elapsed time.Duration) {
	m.MessagesRejected.WithLabelValues(reason).Inc()
	m.RouteDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IncrementSafetyFlag(kind string) {
	m.SafetyFlags.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementPersistenceFailures() {
	m.PersistenceFailures.Inc()
}

func (m *Metrics) IncrementRateLimited(surface string) {
	m.RateLimited.WithLabelValues(surface).Inc()
}
