package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/nbfix/internal/http"

// Repair requests block for the whole session, so latency buckets run from
// sub-second health checks up to the executor's default ten minute budget.
var latencyBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

// requestMetrics records per-route API traffic through the global OTel
// meter provider. A nil instrument is skipped so a broken exporter never
// fails a request.
type requestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("instrument unavailable", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &requestMetrics{}
	var err error

	m.requests, err = meter.Int64Counter("nbfix.http.requests",
		metric.WithDescription("API requests by route, method and status class."),
		metric.WithUnit("{request}"))
	warn("nbfix.http.requests", err)

	m.latency, err = meter.Float64Histogram("nbfix.http.latency",
		metric.WithDescription("Time to answer an API request, including any repair session it ran."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	warn("nbfix.http.latency", err)

	m.inFlight, err = meter.Int64UpDownCounter("nbfix.http.in_flight",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	warn("nbfix.http.in_flight", err)

	return m
}

func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the status before it is read below.
				c.Error(err)
				err = nil
			}

			set := metric.WithAttributes(
				attribute.String("route", routeOf(c)),
				attribute.String("method", c.Request().Method),
				attribute.String("status_class", statusClass(c.Response().Status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, set)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), set)
			}
			return err
		}
	}
}

// routeOf returns the registered route pattern; unmatched requests share
// one label.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

// statusClass collapses a status code to "2xx", "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
