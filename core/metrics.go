package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors shared across a node's
// sessions, server and bridge. Callers register it once against their own
// registry (or prometheus.DefaultRegisterer) and pass it down wherever a
// Session/Server/Bridge is constructed.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	FramesSent       *prometheus.CounterVec
	FramesReceived   *prometheus.CounterVec
	HandshakeRejects prometheus.Counter
	BroadcastSends   prometheus.Counter
}

// NewMetrics builds a Metrics bundle with the given namespace (e.g. the
// binary name) prefixing every metric.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently past handshake confirmation.",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the wire, by mode.",
		}, []string{"mode"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from the wire, by mode.",
		}, []string{"mode"}),
		HandshakeRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_rejects_total",
			Help:      "Handshakes rejected for a connection-key mismatch or a same-id peer.",
		}),
		BroadcastSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Containers routed via broadcast rather than direct delivery.",
		}),
	}
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.SessionsActive, m.FramesSent, m.FramesReceived,
		m.HandshakeRejects, m.BroadcastSends,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func frameModeLabel(mode FrameMode) string {
	switch mode {
	case FrameModePacket:
		return "packet"
	case FrameModeFile:
		return "file"
	case FrameModeBinary:
		return "binary"
	default:
		return "unknown"
	}
}
