// Package telemetry turns workflow events into OpenTelemetry metrics.
//
// Metrics are off by default. When enabled they are exported periodically
// to a writer (stderr unless configured) with the stdout metric exporter.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scopeName = "github.com/hugo-lorenzo-mato/tickettrail"

// Config controls metric export.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Output   io.Writer
	Service  string
	Version  string

	// Reader replaces the periodic stdout reader.
	Reader sdkmetric.Reader
}

// Provider owns the meter provider and its shutdown.
type Provider struct {
	provider metric.MeterProvider
	shutdown func(context.Context) error
}

// New builds a Provider. A disabled config yields no-op meters.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			provider: metricnoop.NewMeterProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	if cfg.Service == "" {
		cfg.Service = "tickettrail"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.Service),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	reader := cfg.Reader
	if reader == nil {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		interval := cfg.Interval
		if interval <= 0 {
			interval = time.Minute
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	return &Provider{provider: mp, shutdown: mp.Shutdown}, nil
}

// Meter returns the tickettrail meter.
func (p *Provider) Meter() metric.Meter {
	return p.provider.Meter(scopeName)
}

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
