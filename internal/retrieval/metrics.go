package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// retrievalsTotal counts Retrieve calls.
	// Labels: outcome (hit, empty, error, timeout)
	retrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Context retrievals by outcome",
		},
		[]string{"outcome"},
	)

	retrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tutord",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Duration of context retrieval including grouping",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ingestedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "retrieval",
			Name:      "ingested_chunks_total",
			Help:      "Course content chunks written to the local collection",
		},
	)
)
