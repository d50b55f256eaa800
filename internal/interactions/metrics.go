package interactions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "interactions",
			Name:      "written_total",
			Help:      "Interactions handed to the sink, by sink and result",
		},
		[]string{"sink", "result"},
	)

	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "interactions",
			Name:      "dropped_total",
			Help:      "Interactions dropped before reaching the sink, by reason",
		},
		[]string{"reason"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tutord",
			Subsystem: "interactions",
			Name:      "queue_depth",
			Help:      "Interactions waiting to be written",
		},
	)

	redactedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "interactions",
			Name:      "redacted_secrets_total",
			Help:      "Secrets replaced before writing, by field",
		},
		[]string{"field"},
	)
)
