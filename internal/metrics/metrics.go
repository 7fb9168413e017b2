// Package metrics exposes relay counters in prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fragrelay"

// Relay groups the collectors the relay server updates. a nil *Relay is valid
// and records nothing.
type Relay struct {
	sessions      prometheus.Gauge
	rejected      prometheus.Counter
	packetsIn     *prometheus.CounterVec
	parseFaults   *prometheus.CounterVec
	framesOut     prometheus.Counter
	packetsOut    prometheus.Counter
	frameBytes    prometheus.Histogram
	sendFailures  prometheus.Counter
	flushDuration prometheus.Histogram
}

// NewRelay creates the relay collectors and registers them with reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of open sessions.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Connections turned away because every session id was taken.",
		}),
		packetsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Decoded inbound packets by schema.",
		}, []string{"schema"}),
		parseFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_parse_faults_total",
			Help:      "Inbound frames that could not be parsed to the end.",
		}, []string{"reason"}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written by flush passes.",
		}),
		packetsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Packets written by flush passes.",
		}),
		frameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of flushed frames.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Frame writes that failed.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_pass_seconds",
			Help:      "Duration of a flush pass over all sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.sessions,
			m.rejected,
			m.packetsIn,
			m.parseFaults,
			m.framesOut,
			m.packetsOut,
			m.frameBytes,
			m.sendFailures,
			m.flushDuration,
		)
	}

	return m
}

func (m *Relay) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Relay) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Relay) SessionRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Relay) PacketReceived(schema string) {
	if m == nil {
		return
	}
	m.packetsIn.WithLabelValues(schema).Inc()
}

func (m *Relay) ParseFault(reason string) {
	if m == nil {
		return
	}
	m.parseFaults.WithLabelValues(reason).Inc()
}

func (m *Relay) FrameSent(packets, bytes int) {
	if m == nil {
		return
	}
	m.framesOut.Inc()
	m.packetsOut.Add(float64(packets))
	m.frameBytes.Observe(float64(bytes))
}

func (m *Relay) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Relay) FlushPassTook(seconds float64) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(seconds)
}
