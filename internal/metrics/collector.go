package sessionmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "sessiond"
	subsystem = "session"
)

// labelReason is the drop-reason label attached to the dropped-packets
// counter; values are the dropReason strings the session package names
// (runt, unrecognized-handle, non-fc-key, self-handshake,
// decrypt-failure, buffer-full).
const labelReason = "reason"

// -------------------------------------------------------------------------
// Collector — Prometheus Session Manager Metrics
// -------------------------------------------------------------------------

// Collector holds all session manager Prometheus metrics and implements
// internal/session.MetricsReporter.
type Collector struct {
	// LiveSessions tracks the number of currently live sessions.
	LiveSessions prometheus.Gauge

	// BufferedMessages tracks the number of packets in the buffered-message
	// queue awaiting route discovery.
	BufferedMessages prometheus.Gauge

	// SessionsCreated counts sessions created over the process lifetime.
	SessionsCreated prometheus.Counter

	// SessionsEnded counts sessions removed over the process lifetime.
	SessionsEnded prometheus.Counter

	// PacketsDropped counts dropped packets, labeled by reason.
	PacketsDropped *prometheus.CounterVec

	// PathsDiscovered counts DISCOVERED_PATH emissions.
	PathsDiscovered prometheus.Counter
}

// NewCollector creates a Collector with all session metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.LiveSessions,
		c.BufferedMessages,
		c.SessionsCreated,
		c.SessionsEnded,
		c.PacketsDropped,
		c.PathsDiscovered,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "live_sessions",
			Help:      "Number of currently live sessions in the session table.",
		}),

		BufferedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffered_messages",
			Help:      "Number of outbound packets buffered awaiting route discovery.",
		}),

		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_created_total",
			Help:      "Total sessions created.",
		}),

		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_ended_total",
			Help:      "Total sessions removed.",
		}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped by the ingress or egress pipeline, labeled by reason.",
		}, []string{labelReason}),

		PathsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "paths_discovered_total",
			Help:      "Total DISCOVERED_PATH events emitted to the pathfinder.",
		}),
	}
}

// -------------------------------------------------------------------------
// session.MetricsReporter implementation
// -------------------------------------------------------------------------

// IncSessionsCreated implements session.MetricsReporter.
func (c *Collector) IncSessionsCreated() { c.SessionsCreated.Inc() }

// IncSessionsEnded implements session.MetricsReporter.
func (c *Collector) IncSessionsEnded() { c.SessionsEnded.Inc() }

// SetLiveSessions implements session.MetricsReporter.
func (c *Collector) SetLiveSessions(n int) { c.LiveSessions.Set(float64(n)) }

// SetBufferedMessages implements session.MetricsReporter.
func (c *Collector) SetBufferedMessages(n int) { c.BufferedMessages.Set(float64(n)) }

// IncDropped implements session.MetricsReporter.
func (c *Collector) IncDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// IncPathDiscovered implements session.MetricsReporter.
func (c *Collector) IncPathDiscovered() { c.PathsDiscovered.Inc() }
