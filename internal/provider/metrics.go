package provider

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Metrics holds provider call instruments.
type Metrics struct {
	duration metric.Float64Histogram
	calls    metric.Int64Counter
}

// NewMetrics creates provider instruments on meter. Instrument errors are
// logged and leave the instrument nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"tutord.provider.generation_duration_seconds",
		metric.WithDescription("Duration of provider generation calls, labeled by backend and mode (blocking, stream)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.calls, err = meter.Int64Counter(
		"tutord.provider.calls_total",
		metric.WithDescription("Provider calls by backend and result class (ok, canceled, unavailable, rate_limited, malformed)"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create calls counter", zap.Error(err))
	}
	return m
}

// Record records one finished call.
func (m *Metrics) Record(ctx context.Context, backend, mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("mode", mode),
		attribute.String("result", resultClass(err)),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
}

func resultClass(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	switch Classify(err) {
	case nil:
		return "ok"
	case ErrRateLimited:
		return "rate_limited"
	case ErrMalformedResponse:
		return "malformed"
	default:
		return "unavailable"
	}
}
