// Package metrics exposes worker activity as Prometheus collectors.
//
// Metrics is a transport.Observer; attach it to a worker and serve
// Handler() on the configured listen address.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

const namespace = "mirrorctl"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	dispatched  *prometheus.CounterVec
	completed   *prometheus.CounterVec
	ackLatency  *prometheus.HistogramVec
	doneLatency *prometheus.HistogramVec
	connected   *prometheus.GaugeVec
	disconnects *prometheus.CounterVec
	motors      *prometheus.GaugeVec
	moving      *prometheus.GaugeVec
}

// Ensure Metrics implements transport.Observer.
var _ transport.Observer = (*Metrics)(nil)

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Commands written to the link.",
		}, []string{"transport", "action"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_completed_total",
			Help:      "Commands completed, by outcome and error code.",
		}, []string{"transport", "action", "outcome", "code"}),
		ackLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_ack_latency_seconds",
			Help:      "Time from queueing a command to its ACK.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"transport", "action"}),
		doneLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_completion_latency_seconds",
			Help:      "Time from queueing a command to its final event.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"transport", "action"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_connected",
			Help:      "1 while the worker's link is up.",
		}, []string{"transport"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_disconnects_total",
			Help:      "Transitions from connected to disconnected.",
		}, []string{"transport"}),
		motors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "motors_reported",
			Help:      "Motors in the last status update.",
		}, []string{"transport"}),
		moving: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "motors_moving",
			Help:      "Motors reporting moving=1 in the last status update.",
		}, []string{"transport"}),
	}
	m.registry.MustRegister(
		m.dispatched, m.completed, m.ackLatency, m.doneLatency,
		m.connected, m.disconnects, m.motors, m.moving,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandDispatched(tr string, cmd transport.PendingCommand) {
	m.dispatched.WithLabelValues(tr, cmd.Request.Action.String()).Inc()
}

func (m *Metrics) CommandAcked(tr string, cmd transport.PendingCommand) {
	m.ackLatency.WithLabelValues(tr, cmd.Request.Action.String()).Observe(cmd.AckLatency.Seconds())
}

func (m *Metrics) CommandCompleted(tr string, cmd transport.PendingCommand) {
	action := cmd.Request.Action.String()
	outcome, code := "done", ""
	if cmd.Failed() {
		outcome, code = "error", cmd.Done.Code
	}
	m.completed.WithLabelValues(tr, action, outcome, code).Inc()
	m.doneLatency.WithLabelValues(tr, action).Observe(cmd.CompletionLatency.Seconds())
}

func (m *Metrics) ConnectionChanged(tr string, state transport.ConnState) {
	g := m.connected.WithLabelValues(tr)
	switch state {
	case transport.StateConnected:
		g.Set(1)
	case transport.StateDisconnected:
		g.Set(0)
		m.disconnects.WithLabelValues(tr).Inc()
	}
}

func (m *Metrics) StatusUpdated(tr string, rows []telemetry.StatusRow) {
	moving := 0
	for _, r := range rows {
		if r.IsMoving() {
			moving++
		}
	}
	m.motors.WithLabelValues(tr).Set(float64(len(rows)))
	m.moving.WithLabelValues(tr).Set(float64(moving))
}
