package budget

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "budget",
			Name:      "consumed_total",
			Help:      "Health points consumed, by kind (debited or unlimited)",
		},
		[]string{"kind"},
	)

	deniedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "budget",
			Name:      "denied_total",
			Help:      "Requests denied because the user had no health points",
		},
	)

	regeneratedPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "budget",
			Name:      "regenerated_points_total",
			Help:      "Health points credited by time-based regeneration",
		},
	)
)
