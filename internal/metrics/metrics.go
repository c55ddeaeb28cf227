// Package metrics exposes relay counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridge"

// knownTypes bounds the label set of the inbound counter.
var knownTypes = map[string]struct{}{
	"register":       {},
	"join_room":      {},
	"leave_room":     {},
	"broadcast":      {},
	"room_broadcast": {},
	"direct_message": {},
	"ping":           {},
	"invalid":        {},
	"unknown":        {},
}

// Relay implements the relay's instrumentation hooks on its own registry.
type Relay struct {
	registry    *prometheus.Registry
	inbound     *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	connections prometheus.Gauge
	rooms       prometheus.Gauge
}

// New builds the collectors and registers them together with the Go and
// process collectors.
func New() *Relay {
	m := &Relay{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound client frames by message type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound frame hand-offs to connection queues by result.",
		}, []string{"result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live registered connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Non-empty rooms.",
		}),
	}
	m.registry.MustRegister(
		m.inbound,
		m.deliveries,
		m.connections,
		m.rooms,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveInbound counts one inbound frame. Types outside the protocol are
// folded into "unknown".
func (m *Relay) ObserveInbound(messageType string) {
	if m == nil {
		return
	}
	if _, ok := knownTypes[messageType]; !ok {
		messageType = "unknown"
	}
	m.inbound.WithLabelValues(messageType).Inc()
}

// ObserveDelivery counts one fan-out attempt.
func (m *Relay) ObserveDelivery(accepted bool) {
	if m == nil {
		return
	}
	result := "dropped"
	if accepted {
		result = "accepted"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// SetOccupancy publishes the current registry size.
func (m *Relay) SetOccupancy(connections, rooms int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(connections))
	m.rooms.Set(float64(rooms))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
