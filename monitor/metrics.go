package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bitfsorg/anchorstore/ledger"
)

type metrics struct {
	transitions  *prometheus.CounterVec
	bridgeCalls  *prometheus.CounterVec
	tickDuration prometheus.Histogram
}

// newMetrics registers the engine collectors with reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchorstore_transitions_total",
				Help: "Ledger state transitions applied by the monitor engine",
			},
			[]string{"from", "to"},
		),
		bridgeCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchorstore_bridge_calls_total",
				Help: "Bridge calls by operation and classified result",
			},
			[]string{"op", "result"},
		),
		tickDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anchorstore_tick_duration_seconds",
				Help:    "Duration of monitor engine ticks",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *metrics) transition(from, to ledger.TxState) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *metrics) bridgeCall(op, result string) {
	m.bridgeCalls.WithLabelValues(op, result).Inc()
}
