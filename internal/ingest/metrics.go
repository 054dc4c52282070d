package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsTotal counts documents by outcome.
	// Labels: policy, outcome (inserted, duplicate, skipped)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents processed by ingestion, by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)

	// BatchDuration tracks end-to-end ingestion time.
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpora",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of ingestion batches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"policy"},
	)
)
