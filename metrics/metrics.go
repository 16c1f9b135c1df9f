// Package metrics exposes Prometheus collectors for the order hub. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ordersSubmitted *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	connections     *prometheus.GaugeVec
	fanout          prometheus.Histogram
}

const invalidBranch = "invalid"

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderhub",
			Name:      "orders_submitted_total",
			Help:      "Order submissions by branch and result.",
		}, []string{"branch", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderhub",
			Name:      "order_transitions_total",
			Help:      "Lifecycle transition requests by transition and result.",
		}, []string{"transition", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderhub",
			Name:      "deliveries_total",
			Help:      "Outbound websocket messages by event and result.",
		}, []string{"event", "result"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orderhub",
			Name:      "connections",
			Help:      "Live viewer connections by role.",
		}, []string{"role"}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orderhub",
			Name:      "fanout_duration_seconds",
			Help:      "Time to compute and enqueue one broadcast.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ordersSubmitted, m.transitions, m.deliveries, m.connections, m.fanout)
	}
	return m
}

// OrderSubmitted counts an order that passed validation. branch must be
// a validated branch name.
func (m *Metrics) OrderSubmitted(branch string, err error) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(branch, result(err)).Inc()
}

// OrderRejected counts a submission that failed validation. The branch
// is not used as a label since it came straight from the client.
func (m *Metrics) OrderRejected() {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(invalidBranch, "invalid").Inc()
}

func (m *Metrics) Transition(transition string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, result(err)).Inc()
}

// Delivery counts one enqueue attempt; ok=false is a DeliveryFailure.
func (m *Metrics) Delivery(event string, ok bool) {
	if m == nil {
		return
	}
	r := "ok"
	if !ok {
		r = "dropped"
	}
	m.deliveries.WithLabelValues(event, r).Inc()
}

func (m *Metrics) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Inc()
}

func (m *Metrics) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Dec()
}

func (m *Metrics) ObserveFanout(start time.Time) {
	if m == nil {
		return
	}
	m.fanout.Observe(time.Since(start).Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
