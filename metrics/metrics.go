// Package metrics collects and exposes Prometheus metrics for the fan-out
// core and the REST surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the counters of the fan-out core.
type Collector struct {
	activeConnections prometheus.Gauge
	activeRooms       prometheus.Gauge
	messagesTotal     prometheus.Counter
	deliveredTotal    prometheus.Counter
	deliveryFailures  prometheus.Counter
	droppedFrames     *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pingme_active_connections",
			Help: "Number of currently open websocket connections.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pingme_active_rooms",
			Help: "Number of rooms with at least one subscriber.",
		}),
		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingme_messages_total",
			Help: "Total number of chat messages persisted and broadcast.",
		}),
		deliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingme_deliveries_total",
			Help: "Total number of per-subscriber message deliveries.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingme_delivery_failures_total",
			Help: "Deliveries that failed and removed the subscriber.",
		}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingme_dropped_frames_total",
			Help: "Inbound frames dropped, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		c.activeConnections,
		c.activeRooms,
		c.messagesTotal,
		c.deliveredTotal,
		c.deliveryFailures,
		c.droppedFrames,
	)
	return c
}

// All record methods tolerate a nil Collector so metrics stay optional in
// tests and tooling.

func (c *Collector) ConnectionOpened() {
	if c != nil {
		c.activeConnections.Inc()
	}
}

func (c *Collector) ConnectionClosed() {
	if c != nil {
		c.activeConnections.Dec()
	}
}

func (c *Collector) SetActiveRooms(n int) {
	if c != nil {
		c.activeRooms.Set(float64(n))
	}
}

func (c *Collector) MessageBroadcast(sent int) {
	if c != nil {
		c.messagesTotal.Inc()
		c.deliveredTotal.Add(float64(sent))
	}
}

func (c *Collector) DeliveryFailed() {
	if c != nil {
		c.deliveryFailures.Inc()
	}
}

func (c *Collector) FrameDropped(reason string) {
	if c != nil {
		c.droppedFrames.WithLabelValues(reason).Inc()
	}
}

// Handler returns the /metrics endpoint for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
