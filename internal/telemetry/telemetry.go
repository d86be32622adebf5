package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Telemetry holds the OTLP providers nbfix installs globally. Instruments
// across the repo are obtained through otel.Meter and otel.Tracer, so they
// stay no-ops until New succeeds.
type Telemetry struct {
	cfg       *Config
	logger    *zap.Logger
	shutdowns []func(context.Context) error
	degraded  bool
}

// New validates cfg and, when enabled, starts trace and metric export.
// A provider that cannot be built is logged and skipped; repairs never
// fail because the collector is missing.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return t, nil
	}

	res := serviceResource(cfg)

	if tp, err := buildTracerProvider(ctx, cfg, res); err != nil {
		t.degrade("traces", err)
	} else {
		otel.SetTracerProvider(tp)
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
	}

	if mp, err := buildMeterProvider(ctx, cfg, res); err != nil {
		t.degrade("metrics", err)
	} else {
		otel.SetMeterProvider(mp)
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	logger.Debug("telemetry started",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Bool("degraded", t.degraded),
	)
	return t, nil
}

// Degraded is true when export was requested but a provider failed.
func (t *Telemetry) Degraded() bool {
	return t != nil && t.degraded
}

// Shutdown flushes pending spans and metrics. Without a deadline on ctx the
// configured ShutdownTimeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || len(t.shutdowns) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	for _, stop := range t.shutdowns {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdowns = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

func (t *Telemetry) degrade(signal string, err error) {
	t.degraded = true
	t.logger.Warn("telemetry export unavailable", zap.String("signal", signal), zap.Error(err))
}
