package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := NewHTTPMetricsWithMeter(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "nope")
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api"},
		{http.MethodGet, "/missing"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	metrics := collect(t, reader)

	requests, ok := metrics["tutord.http.requests_total"]
	require.True(t, ok, "requests counter not found")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	statuses := map[int64]int64{}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
		v, _ := dp.Attributes.Value("status")
		statuses[v.AsInt64()] += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), statuses[http.StatusOK])
	assert.Equal(t, int64(1), statuses[http.StatusBadRequest])
	assert.Equal(t, int64(1), statuses[http.StatusNotFound])

	duration, ok := metrics["tutord.http.request_duration_seconds"]
	require.True(t, ok, "duration histogram not found")
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	assert.Contains(t, metrics, "tutord.http.response_size_bytes")
	assert.Contains(t, metrics, "tutord.http.active_requests")
}

func TestHTTPMetrics_StreamFrames(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	pipe := &fakePipeline{events: []orchestrator.Event{
		{Kind: orchestrator.EventLoading, Message: "Looking at course content..."},
		{Kind: orchestrator.EventThinking, Message: "Thinking..."},
		{Kind: orchestrator.EventComplete, Outcome: &orchestrator.Outcome{Response: "done", State: orchestrator.StateComplete}},
	}}
	ts := setupTestServer(t, 3)
	server, err := NewServer(pipe, ts.tracker, logging.NewNop(), &Config{
		Metrics: NewHTTPMetricsWithMeter(mp.Meter(httpInstrumentationName), nil),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/stream", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Tutor-User", testUser)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	frames, ok := collect(t, reader)["tutord.http.stream_frames_total"]
	require.True(t, ok, "stream frames counter not found")
	sum, ok := frames.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("status")
		byStatus[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"loading": 1, "thinking": 1, "complete": 1}, byStatus)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api", "/api"},
		{"/api/stream", "/api/stream"},
		{"/api/health-status", "/api/health-status"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), "normalizePath(%q)", tt.input)
	}
}
