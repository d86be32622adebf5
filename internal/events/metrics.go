package events

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for repair sessions.
type Metrics struct {
	SessionsTotal     *prometheus.CounterVec
	TransitionsTotal  *prometheus.CounterVec
	PatchesTotal      *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	SessionIterations prometheus.Histogram
	ActiveSessions    prometheus.Gauge
}

// NewMetrics creates and registers the metrics once per process, so
// repeated calls never panic on duplicate registration.
//
// Metrics:
//   - nbfix_sessions_total{status}
//   - nbfix_transitions_total{from,to}
//   - nbfix_patches_total{result}
//   - nbfix_session_duration_seconds
//   - nbfix_session_iterations
//   - nbfix_active_sessions
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nbfix_sessions_total",
					Help: "Total number of finished repair sessions",
				},
				[]string{"status"}, // "success" or "failed"
			),
			TransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nbfix_transitions_total",
					Help: "Total number of state machine transitions",
				},
				[]string{"from", "to"},
			),
			PatchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nbfix_patches_total",
					Help: "Total number of patch applications by outcome",
				},
				[]string{"result"}, // "applied" or "no_match"
			),
			SessionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "nbfix_session_duration_seconds",
					Help:    "Duration of repair sessions in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
				},
			),
			SessionIterations: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "nbfix_session_iterations",
					Help:    "Patch iterations per repair session",
					Buckets: prometheus.LinearBuckets(0, 1, 11),
				},
			),
			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "nbfix_active_sessions",
					Help: "Number of repair sessions in progress",
				},
			),
		}
	})
	return globalMetrics
}

// MetricsSink derives Prometheus metrics from session events.
type MetricsSink struct {
	m *Metrics
}

// NewMetricsSink creates a MetricsSink on the global metrics.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{m: NewMetrics()}
}

// Transition implements Sink.
func (s *MetricsSink) Transition(_ context.Context, t Transition) {
	s.m.TransitionsTotal.WithLabelValues(t.From, t.To).Inc()

	switch {
	case t.From == "pending":
		s.m.ActiveSessions.Inc()
	case t.From == "applying" && t.To == "validating":
		s.m.PatchesTotal.WithLabelValues("applied").Inc()
	case t.From == "applying":
		s.m.PatchesTotal.WithLabelValues("no_match").Inc()
	}
}

// Report implements Sink.
func (s *MetricsSink) Report(_ context.Context, r Report) {
	status := "failed"
	if r.Success {
		status = "success"
	}
	s.m.SessionsTotal.WithLabelValues(status).Inc()
	s.m.SessionDuration.Observe(r.Duration.Seconds())
	s.m.SessionIterations.Observe(float64(r.Iterations))
	s.m.ActiveSessions.Dec()
}

var _ Sink = (*MetricsSink)(nil)
