package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRequestMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e := echo.New()
	e.Use(newRequestMetrics(mp.Meter(meterName), zaptest.NewLogger(t)).middleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/v1/repair", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "repair already running")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/repair", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	got := collect(t, reader)

	requests, ok := got["nbfix.http.requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "request counter missing")
	byRoute := map[string]string{}
	var total int64
	for _, dp := range requests.DataPoints {
		route, _ := dp.Attributes.Value("route")
		class, _ := dp.Attributes.Value("status_class")
		byRoute[route.AsString()] = class.AsString()
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "2xx", byRoute["/health"])
	assert.Equal(t, "4xx", byRoute["/api/v1/repair"])

	latency, ok := got["nbfix.http.latency"].Data.(metricdata.Histogram[float64])
	require.True(t, ok, "latency histogram missing")
	var count uint64
	for _, dp := range latency.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	inFlight, ok := got["nbfix.http.in_flight"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "in-flight counter missing")
	for _, dp := range inFlight.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(0))
}
