package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yusuferdemnacar/robust-file-transfer/metrics"
)

func TestMetricsRegisterAndGather(t *testing.T) {
	metrics.PacketsSentTotal.WithLabelValues("delivered").Inc()
	metrics.PacketsSentTotal.WithLabelValues("dropped").Inc()
	metrics.PacketsReceivedTotal.WithLabelValues("accepted").Inc()
	metrics.RetransmitsTotal.Inc()
	metrics.ActiveConnections.WithLabelValues("server").Set(3)
	metrics.InflightBytes.WithLabelValues("42").Set(1460)
	metrics.ErrorCount.WithLabelValues("checksum_mismatch").Inc()
	metrics.TransferBytesTotal.WithLabelValues("send").Add(1024)
	metrics.HandshakeDurationHistogram.Observe(0.05)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	want := map[string]bool{
		"rft_packets_sent_total":          false,
		"rft_packets_received_total":      false,
		"rft_retransmits_total":           false,
		"rft_active_connections":          false,
		"rft_inflight_bytes":              false,
		"rft_error_total":                 false,
		"rft_transfer_bytes_total":        false,
		"rft_handshake_duration_seconds":  false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s was not registered with the default gatherer", name)
		}
	}
}
