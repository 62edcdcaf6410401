// Package metrics exposes Prometheus metrics of the OCPP engine.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/ocpp"
)

// Metrics holds the engine counters. It implements session.Observer.
type Metrics struct {
	registry   *prometheus.Registry
	received   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	sent       *prometheus.CounterVec
	operations *prometheus.CounterVec
}

// New creates the metrics and registers them, together with a collector
// reading session gauges from chargePoints at scrape time.
func New(chargePoints *chargepoint.Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_messages_received_total",
			Help: "OCPP messages received from peers",
		}, []string{"protocol", "type", "action"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_messages_rejected_total",
			Help: "Inbound frames that could not be decoded",
		}, []string{"protocol", "code"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_messages_sent_total",
			Help: "OCPP messages sent to peers",
		}, []string{"protocol", "type", "action"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_api_operations_total",
			Help: "Operations requested through the inbound API by HTTP status",
		}, []string{"action", "status"}),
	}
	m.registry.MustRegister(m.received, m.rejected, m.sent, m.operations)
	if chargePoints != nil {
		m.registry.MustRegister(NewSessionCollector(chargePoints))
	}
	return m
}

func (m *Metrics) MessageReceived(protocol ocpp.Protocol, typ ocpp.MessageType, action string) {
	m.received.WithLabelValues(string(protocol), typ.String(), action).Inc()
}

func (m *Metrics) MessageRejected(protocol ocpp.Protocol, code ocpp.ErrorCode) {
	m.rejected.WithLabelValues(string(protocol), string(code)).Inc()
}

func (m *Metrics) MessageSent(protocol ocpp.Protocol, msg *ocpp.Message) {
	m.sent.WithLabelValues(string(protocol), msg.TypeID.String(), msg.Action).Inc()
}

// OperationCompleted records the HTTP status an API operation ended with.
func (m *Metrics) OperationCompleted(action string, status int) {
	m.operations.WithLabelValues(action, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionCollector implements prometheus.Collector over the charge point
// registry.
type SessionCollector struct {
	chargePoints *chargepoint.Registry
	connected    *prometheus.Desc
	pending      *prometheus.Desc
	connector    *prometheus.Desc
}

func NewSessionCollector(chargePoints *chargepoint.Registry) *SessionCollector {
	return &SessionCollector{
		chargePoints: chargePoints,
		connected: prometheus.NewDesc(
			"ocpp_charge_point_connected",
			"Whether the charge point has a live transport",
			[]string{"charge_point", "protocol"},
			nil,
		),
		pending: prometheus.NewDesc(
			"ocpp_pending_calls",
			"Calls awaiting a reply from the charge point",
			[]string{"charge_point"},
			nil,
		),
		connector: prometheus.NewDesc(
			"ocpp_connector_status",
			"Current connector status, always 1",
			[]string{"charge_point", "connector", "status"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.pending
	ch <- c.connector
}

// Collect implements prometheus.Collector
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	for _, cp := range c.chargePoints.List() {
		connected := 0.0
		if cp.Connected() {
			connected = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected, cp.Identity(), string(cp.Protocol()))
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(cp.Pending.Len()), cp.Identity())
		for _, connector := range cp.Connectors() {
			ch <- prometheus.MustNewConstMetric(c.connector, prometheus.GaugeValue, 1,
				cp.Identity(), strconv.Itoa(connector.ID()), string(connector.Status()))
		}
	}
}
