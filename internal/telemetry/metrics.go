// Package telemetry wires Prometheus counters and an OpenTelemetry
// tracer provider for the reconnaissance engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the full set of counters exported on /metrics.
type Metrics struct {
	FramesCaptured     *prometheus.CounterVec
	FramesDropped      prometheus.Counter
	FramesMalformed    *prometheus.CounterVec
	HandshakesCaptured *prometheus.CounterVec
	DeauthFramesSent   *prometheus.CounterVec
	ChannelHops        prometheus.Counter
	PersistenceErrors  prometheus.Counter
}

// NewMetrics registers and returns the counter set under the
// "pocketrecon" namespace. Register against a dedicated registry in
// tests to avoid collisions with the global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pocketrecon",
			Subsystem: "sniffer",
			Name:      "frames_captured_total",
			Help:      "802.11 frames read off the monitor interface, by classified kind.",
		}, []string{"kind"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pocketrecon",
			Subsystem: "sniffer",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the bounded frame channel was full.",
		}),
		FramesMalformed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pocketrecon",
			Subsystem: "sniffer",
			Name:      "frames_malformed_total",
			Help:      "Frames that failed to decode, by layer at which decoding stopped.",
		}, []string{"layer"}),
		HandshakesCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pocketrecon",
			Subsystem: "handshake",
			Name:      "captured_total",
			Help:      "Completed handshake artifacts emitted, by kind (HANDSHAKE or PMKID).",
		}, []string{"kind"}),
		DeauthFramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pocketrecon",
			Subsystem: "deauth",
			Name:      "frames_sent_total",
			Help:      "Deauthentication frames injected, by direction (to_ap or to_client).",
		}, []string{"direction"}),
		ChannelHops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pocketrecon",
			Subsystem: "hopper",
			Name:      "hops_total",
			Help:      "Channel changes performed by the hopper.",
		}),
		PersistenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pocketrecon",
			Subsystem: "storage",
			Name:      "persistence_errors_total",
			Help:      "Failed attempts to durably record a capture session or handshake.",
		}),
	}
}
