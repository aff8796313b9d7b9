package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "keystore"

type metrics struct {
	requests  *prometheus.CounterVec
	feesSpent prometheus.Counter
	balance   prometheus.Gauge
	latency   prometheus.Histogram
}

// Outcome labels for keystore_relay_requests_total.
const (
	outcomeSuccess   = "success"
	outcomeRejected  = "rejected"
	outcomeLimited   = "rate_limited"
	outcomeFailed    = "failed"
	outcomeUnconfirm = "unconfirmed"
)

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay requests by outcome.",
		}, []string{"outcome"}),
		feesSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "fees_spent_lamports_total",
			Help:      "Estimated lamports spent on fees for relayed transactions.",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "balance_lamports",
			Help:      "Last observed fee payer balance.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "submit_duration_seconds",
			Help:      "Time spent submitting a signed transaction to the RPC node.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.feesSpent, m.balance, m.latency)
	}
	return m
}

func (m *metrics) observe(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}
