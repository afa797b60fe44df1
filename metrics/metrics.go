// Package metrics defines prometheus metric types for the RFT client and
// server.
//
// When defining new operations or metrics, these are helpful values to
// track:
//  - things coming into or going out of the system: packets, frames, bytes.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsSentTotal counts every datagram handed to the socket, split by
	// whether the simulated loss model actually let it through.
	//
	// Provides metrics:
	//   rft_packets_sent_total
	PacketsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rft_packets_sent_total",
			Help: "Total number of outbound datagrams, by delivery outcome.",
		}, []string{"outcome"})

	// PacketsReceivedTotal counts every datagram handed up from the socket,
	// split by how the connection layer classified it.
	//
	// Provides metrics:
	//   rft_packets_received_total
	PacketsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rft_packets_received_total",
			Help: "Total number of inbound datagrams, by classification.",
		}, []string{"outcome"})

	// RetransmitsTotal counts packets resent after a retransmit timeout.
	RetransmitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rft_retransmits_total",
			Help: "Total number of packets resent after a retransmit timeout.",
		},
	)

	// ActiveConnections tracks how many connections the manager currently
	// holds open, keyed by role (client or server).
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rft_active_connections",
			Help: "Number of connections currently tracked by the connection manager.",
		}, []string{"role"})

	// InflightBytes tracks unacknowledged bytes outstanding per connection,
	// keyed by connection id, for the duration of the connection's life.
	InflightBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rft_inflight_bytes",
			Help: "Unacknowledged bytes currently outstanding for a connection.",
		}, []string{"connection_id"})

	// ErrorCount measures the number of errors encountered, by type. The
	// server labels each error with the wire message it sends.
	//
	// Example usage:
	//   metrics.ErrorCount.With(prometheus.Labels{"type": "checksum mismatch"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rft_error_total",
			Help: "The total number of errors encountered, by type.",
		}, []string{"type"})

	// TransferBytesTotal counts file payload bytes moved across all Data
	// frames, by direction.
	TransferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rft_transfer_bytes_total",
			Help: "Total file payload bytes transferred, by direction.",
		}, []string{"direction"})

	// HandshakeDurationHistogram tracks the time from a client's first Read
	// or Write frame to the arrival of its assigned connection id.
	HandshakeDurationHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rft_handshake_duration_seconds",
			Help:    "Time from the first client frame to connection id assignment.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// init prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can
// be opaque.
func init() {
	log.Println("Prometheus metrics in rft/metrics are registered.")
}
