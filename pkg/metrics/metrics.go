// Package metrics defines the node's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lanchat"

// Metrics groups every collector the node updates.
type Metrics struct {
	MessagesDelivered prometheus.Counter
	MessagesDuplicate prometheus.Counter
	MessagesRejected  *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	RPCDropped        prometheus.Counter
	ConnectFailures   prometheus.Counter
	Peers             prometheus.Gauge
	Topics            prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg gets a
// private registry so several nodes can share a process.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_delivered_total",
			Help:      "Messages appended to the local message log.",
		}),
		MessagesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_duplicate_total",
			Help:      "Messages dropped because their fingerprint was already seen.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_rejected_total",
			Help:      "Inbound messages discarded by validation.",
		}, []string{"reason"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "publish_errors_total",
			Help:      "Publish requests refused or failed.",
		}, []string{"reason"}),
		RPCDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "rpc_dropped_total",
			Help:      "Outbound RPCs dropped because a peer queue was full.",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connect_failures_total",
			Help:      "Dials that failed to complete a secure handshake.",
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "peers",
			Help:      "Peers currently in the directory.",
		}),
		Topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "topics_joined",
			Help:      "Topics this node is subscribed to.",
		}),
	}

	reg.MustRegister(
		m.MessagesDelivered,
		m.MessagesDuplicate,
		m.MessagesRejected,
		m.PublishErrors,
		m.RPCDropped,
		m.ConnectFailures,
		m.Peers,
		m.Topics,
	)
	return m
}
