// Package telemetry wires the coordinator's metrics, following the
// teacher's convention of threading a prometheus.Registerer through
// constructors instead of touching the global registry (poll/default.go:
// NewFactory(log, registerer, ...)).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector shared across the coordinator's
// components. A single instance is constructed at startup and the
// resulting sub-structs are handed to each component's constructor.
type Metrics struct {
	JobsTerminal    *prometheus.CounterVec // by terminal state
	AuctionsClosed  *prometheus.CounterVec // by outcome
	ResultsRejected *prometheus.CounterVec // by reason
	PenaltiesTotal  *prometheus.CounterVec // by kind
	ChainTxTotal    *prometheus.CounterVec // by state

	AuctionDuration    prometheus.Histogram
	CollectionDuration prometheus.Histogram
	ChainConfirmLatency prometheus.Histogram
}

// New registers every collector against reg and returns the bundle.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated from each
// other and from the process-wide default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "jobs_terminal_total",
			Help:      "Jobs that reached a terminal state, by state.",
		}, []string{"state"}),
		AuctionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "auctions_closed_total",
			Help:      "Auctions closed, by outcome (winner, no_bids, no_eligible_bids, all_banned).",
		}, []string{"outcome"}),
		ResultsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "results_rejected_total",
			Help:      "WorkerResults rejected on arrival, by reason.",
		}, []string{"reason"}),
		PenaltiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "reputation_penalties_total",
			Help:      "Reputation penalties applied, by kind.",
		}, []string{"kind"}),
		ChainTxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "chain_tx_total",
			Help:      "Chain transactions observed, by terminal state.",
		}, []string{"state"}),
		AuctionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coordinator",
			Name:      "auction_duration_seconds",
			Help:      "Wall time from auction open to winner/no_winner.",
			Buckets:   prometheus.DefBuckets,
		}),
		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coordinator",
			Name:      "collection_duration_seconds",
			Help:      "Wall time from assignment to consensus artifact.",
			Buckets:   prometheus.DefBuckets,
		}),
		ChainConfirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coordinator",
			Name:      "chain_confirm_latency_seconds",
			Help:      "Latency from tx submission to confirmation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.JobsTerminal,
		m.AuctionsClosed,
		m.ResultsRejected,
		m.PenaltiesTotal,
		m.ChainTxTotal,
		m.AuctionDuration,
		m.CollectionDuration,
		m.ChainConfirmLatency,
	)
	return m
}
