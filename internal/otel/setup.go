// Package otel wires OpenTelemetry tracing and metrics for dcpguard and holds
// the shared attribute keys used across packages.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMetricInterval is how often metrics are exported when enabled.
const DefaultMetricInterval = 30 * time.Second

// Options selects what Setup installs.
type Options struct {
	ServiceName string
	Version     string
	Enabled     bool
	// Writer receives exported traces and metrics. Defaults to stderr so that
	// stdout stays parseable (dcpguard detect --json | jq).
	Writer io.Writer
	// MetricInterval overrides DefaultMetricInterval.
	MetricInterval time.Duration
}

// Setup installs global tracer and meter providers backed by stdout
// exporters. When opts.Enabled is false nothing is installed and the returned
// shutdown is a no-op, leaving the global no-op providers in place.
func Setup(opts Options) (shutdown func(context.Context) error, err error) {
	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = DefaultMetricInterval
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(opts.MetricInterval))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Tracer returns a tracer for the given package.
func Tracer(pkg string) trace.Tracer {
	return otel.Tracer(pkg)
}

// Meter returns a meter for the given package.
func Meter(pkg string) metric.Meter {
	return otel.Meter(pkg)
}
