package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cascade"

// Transport labels for the stream_clients gauge.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// Metrics holds the collectors for one store and its bridge.
type Metrics struct {
	updates       prometheus.Counter
	deliveries    prometheus.Counter
	panics        prometheus.Counter
	subscriptions prometheus.Gauge
	clients       *prometheus.GaugeVec
}

// New registers the Cascade collectors with reg.
//
// Returns nil when reg is nil. Returns an error if any collector cannot be
// registered, for example because reg already backs another store; nothing
// is left registered in that case.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Number of context updates recorded.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Number of callback invocations made by notification passes.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_panics_total",
			Help:      "Number of subscriber callbacks that panicked.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Number of active subscriptions and observers.",
		}),
		clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Number of connected streaming clients by transport.",
		}, []string{"transport"}),
	}

	collectors := []prometheus.Collector{m.updates, m.deliveries, m.panics, m.subscriptions, m.clients}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range collectors[:i] {
				reg.Unregister(done)
			}
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// Updated records one store write.
func (m *Metrics) Updated() {
	if m == nil {
		return
	}
	m.updates.Inc()
}

// Delivered records one callback invocation.
func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

// Panicked records one recovered callback panic.
func (m *Metrics) Panicked() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

// Subscribed adjusts the active subscription gauge by delta.
func (m *Metrics) Subscribed(delta int) {
	if m == nil {
		return
	}
	m.subscriptions.Add(float64(delta))
}

// ClientConnected increments the client gauge for transport.
func (m *Metrics) ClientConnected(transport string) {
	if m == nil {
		return
	}
	m.clients.WithLabelValues(transport).Inc()
}

// ClientDisconnected decrements the client gauge for transport.
func (m *Metrics) ClientDisconnected(transport string) {
	if m == nil {
		return
	}
	m.clients.WithLabelValues(transport).Dec()
}
