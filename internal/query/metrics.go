package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts queries by outcome.
	// Labels: outcome (answered, no_context, error)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of queries by outcome",
		},
		[]string{"outcome"},
	)

	// CollectionSkips counts collections dropped from a fan-out.
	CollectionSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Subsystem: "query",
			Name:      "collection_skips_total",
			Help:      "Collections skipped during query fan-out",
		},
	)

	// FanoutWidth tracks how many collections each query reaches.
	FanoutWidth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpora",
			Subsystem: "query",
			Name:      "fanout_width",
			Help:      "Number of collections searched per query",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// QueryDuration tracks end-to-end query time including synthesis.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpora",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of queries in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)
