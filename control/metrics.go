// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the transport.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hioload"

// Metrics holds the transport collectors.
type Metrics struct {
	ConnectionsStarted prometheus.Counter
	ConnectionsClosed  prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	BytesRead          prometheus.Counter
	BytesWritten       prometheus.Counter
	ReadPauses         prometheus.Counter
	ConnectionResets   prometheus.Counter
	ConnectionErrors   prometheus.Counter
	ConnectionTimeouts prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg keeps them
// unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		ConnectionsStarted: counter("connections_started_total", "Connections accepted and started."),
		ConnectionsClosed:  counter("connections_closed_total", "Connections fully closed."),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Connections currently open.",
		}),
		BytesRead:          counter("read_bytes_total", "Bytes received from sockets."),
		BytesWritten:       counter("written_bytes_total", "Bytes written to sockets."),
		ReadPauses:         counter("read_pauses_total", "Times reading paused for backpressure."),
		ConnectionResets:   counter("connection_resets_total", "Connections reset by the peer."),
		ConnectionErrors:   counter("connection_errors_total", "Socket errors other than resets."),
		ConnectionTimeouts: counter("connection_timeouts_total", "Connections stopped by a timeout."),
	}
}
