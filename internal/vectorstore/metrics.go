package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: provider, operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpora",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// PointsInserted counts vectors written.
	PointsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Subsystem: "vectorstore",
			Name:      "points_inserted_total",
			Help:      "Total number of vectors inserted",
		},
		[]string{"provider"},
	)
)

// observe records the outcome of one operation started at start.
func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(provider, operation, result).Inc()
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
