package orchestrator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	terminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "orchestrator",
			Name:      "requests_total",
			Help:      "Requests by terminal state",
		},
		[]string{"state"},
	)

	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "orchestrator",
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by attempt number (1 or 2)",
		},
		[]string{"attempt"},
	)

	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "orchestrator",
			Name:      "quality_verdicts_total",
			Help:      "Quality verdicts by result",
		},
		[]string{"result"},
	)

	recoveredPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "orchestrator",
			Name:      "recovered_panics_total",
			Help:      "Panics recovered inside a request",
		},
	)
)

// Metrics holds OpenTelemetry instruments for the orchestrator.
type Metrics struct {
	duration metric.Float64Histogram
	attempts metric.Int64Histogram
}

// NewMetrics creates orchestrator instruments on meter. Instruments that
// cannot be created are skipped.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"tutord.orchestrator.request_duration_seconds",
		metric.WithDescription("Time from request start to terminal state, labeled by state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn("failed to create request duration histogram", zap.Error(err))
	}

	m.attempts, err = meter.Int64Histogram(
		"tutord.orchestrator.generation_attempts",
		metric.WithDescription("Generations per request"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2),
	)
	if err != nil {
		logger.Warn("failed to create attempts histogram", zap.Error(err))
	}
	return m
}

// Record records one finished request.
func (m *Metrics) Record(ctx context.Context, state State, attempts int, d time.Duration) {
	terminalTotal.WithLabelValues(string(state)).Inc()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", string(state)))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.attempts != nil {
		m.attempts.Record(ctx, int64(attempts), attrs)
	}
}
