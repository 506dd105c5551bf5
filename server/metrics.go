package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "server",
		Name: "connections_total", Help: "Accepted client connections",
	})
	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "server",
		Name: "messages_total", Help: "Forward messages received",
	})
	metricEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "server",
		Name: "entries_total", Help: "Log entries received",
	})
	metricAcks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "server",
		Name: "acks_total", Help: "Chunk acknowledgements sent",
	})
)
