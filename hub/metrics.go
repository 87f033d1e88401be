package hub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks hub traffic counters for the /metrics endpoint.
type Metrics struct {
	queryRequests *prometheus.CounterVec
	replies       *prometheus.CounterVec
	commandFrames *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	schemaFails   prometheus.Counter
	registrySize  prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newHubCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmq_plugin",
			Subsystem: "hub",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the hub collectors. A nil registerer falls back to the
// Prometheus default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:    registerer,
		queryRequests: newHubCounterVec("query_requests_total", "Query-path requests received, by message type", []string{"msg_type"}),
		replies:       newHubCounterVec("replies_total", "Execute replies produced by the hub, by status", []string{"status"}),
		commandFrames: newHubCounterVec("command_envelopes_total", "Command-path envelopes, by direction", []string{"direction"}),
		dropped:       newHubCounterVec("dropped_envelopes_total", "Command-path envelopes dropped, by reason", []string{"reason"}),
		schemaFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zmq_plugin",
			Subsystem: "hub",
			Name:      "schema_failures_total",
			Help:      "Messages rejected by schema validation",
		}),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zmq_plugin",
			Subsystem: "hub",
			Name:      "registry_size",
			Help:      "Plugins currently registered",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.queryRequests,
		m.replies,
		m.commandFrames,
		m.dropped,
		m.schemaFails,
		m.registrySize,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) queryRequest(msgType string) {
	m.queryRequests.WithLabelValues(msgType).Inc()
}

func (m *Metrics) reply(status string) {
	m.replies.WithLabelValues(status).Inc()
}

func (m *Metrics) commandEnvelope(direction string) {
	m.commandFrames.WithLabelValues(direction).Inc()
}

func (m *Metrics) drop(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) schemaFailure() {
	m.schemaFails.Inc()
}

func (m *Metrics) setRegistrySize(n int) {
	m.registrySize.Set(float64(n))
}
