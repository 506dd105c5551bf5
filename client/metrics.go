package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEventsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "client",
		Name: "events_emitted_total", Help: "Events accepted into the send queue",
	})
	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "client",
		Name: "events_dropped_total", Help: "Events rejected by queue policy or shutdown",
	})
	metricChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "client",
		Name: "chunks_sent_total", Help: "Chunks written to the socket",
	})
	metricWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "client",
		Name: "write_errors_total", Help: "Chunk writes failed at the transport",
	})
	metricAcksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "client",
		Name: "acks_received_total", Help: "Chunk acknowledgements received",
	})
	metricAcksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "client",
		Name: "acks_expired_total", Help: "Chunks expired waiting for acknowledgement",
	})
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluentforward", Subsystem: "client",
		Name: "connections_total", Help: "Successful connections including reconnections",
	})
)
