// Package metrics exposes the engine's Prometheus instrumentation:
// dialog/transaction counts and durations, transport throughput and
// media session RTP statistics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every Prometheus collector the engine registers.
type Metrics struct {
	DialogsTotal     prometheus.Counter
	DialogsActive    prometheus.Gauge
	DialogDuration   prometheus.Histogram
	StateTransitions *prometheus.CounterVec

	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	TransactionTimeouts *prometheus.CounterVec

	TransportMessagesTotal *prometheus.CounterVec
	TransportBytesTotal    *prometheus.CounterVec
	TransportErrorsTotal   prometheus.Counter

	MediaSessionsActive prometheus.Gauge
	RTPPacketsTotal     *prometheus.CounterVec
	RTPPacketsLost      *prometheus.CounterVec
	RTPJitterMs         *prometheus.GaugeVec
}

// New registers and returns the engine's collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose via the default /metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DialogsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "dialog",
			Name:      "dialogs_total",
			Help:      "Total dialogs created.",
		}),
		DialogsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipcore",
			Subsystem: "dialog",
			Name:      "dialogs_active",
			Help:      "Dialogs currently not in Terminated state.",
		}),
		DialogDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sipcore",
			Subsystem: "dialog",
			Name:      "duration_seconds",
			Help:      "Dialog lifetime from Init to Terminated.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "dialog",
			Name:      "state_transitions_total",
			Help:      "Dialog state transitions by target state.",
		}, []string{"state"}),

		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "transaction",
			Name:      "transactions_total",
			Help:      "Transactions created by method and role.",
		}, []string{"method", "role"}),
		TransactionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sipcore",
			Subsystem: "transaction",
			Name:      "duration_seconds",
			Help:      "Transaction lifetime from creation to Terminated.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "role"}),
		TransactionTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "transaction",
			Name:      "timeouts_total",
			Help:      "Transaction terminal timer fires (B/F/H) by timer name.",
		}, []string{"timer"}),

		TransportMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "transport",
			Name:      "messages_total",
			Help:      "Messages sent/received by transport and direction.",
		}, []string{"network", "direction"}),
		TransportBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes sent/received by transport and direction.",
		}, []string{"network", "direction"}),
		TransportErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Transport-level send/receive errors.",
		}),

		MediaSessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipcore",
			Subsystem: "media",
			Name:      "sessions_active",
			Help:      "Media sessions currently in Negotiating/Ready/Active.",
		}),
		RTPPacketsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "media",
			Name:      "rtp_packets_total",
			Help:      "RTP packets sent/received by direction.",
		}, []string{"direction"}),
		RTPPacketsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcore",
			Subsystem: "media",
			Name:      "rtp_packets_lost_total",
			Help:      "RTP packets detected lost by sequence gap.",
		}, []string{"session_id"}),
		RTPJitterMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sipcore",
			Subsystem: "media",
			Name:      "rtp_jitter_ms",
			Help:      "Estimated RTP interarrival jitter in milliseconds.",
		}, []string{"session_id"}),
	}
}

// ObserveDialogDuration records a completed dialog's lifetime.
func (m *Metrics) ObserveDialogDuration(start time.Time) {
	m.DialogDuration.Observe(time.Since(start).Seconds())
}

// ObserveTransactionDuration records a completed transaction's lifetime.
func (m *Metrics) ObserveTransactionDuration(method, role string, start time.Time) {
	m.TransactionDuration.WithLabelValues(method, role).Observe(time.Since(start).Seconds())
}
