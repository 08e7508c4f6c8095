package detector

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var meter = dcpotel.Meter("github.com/dativo-io/dcpguard/internal/detector")

var (
	detectDuration metric.Float64Histogram
	detectErrors   metric.Int64Counter
	detectSpans    metric.Int64Counter
)

func init() {
	var err error
	detectDuration, err = meter.Float64Histogram("dcp.detector.duration_ms",
		metric.WithDescription("Wall-clock duration of one detector call"),
		metric.WithUnit("ms"))
	if err != nil {
		detectDuration, _ = meter.Float64Histogram("dcp.detector.duration_ms.fallback")
	}

	detectErrors, err = meter.Int64Counter("dcp.detector.errors",
		metric.WithDescription("Detector calls that failed to construct or detect"))
	if err != nil {
		detectErrors, _ = meter.Int64Counter("dcp.detector.errors.fallback")
	}

	detectSpans, err = meter.Int64Counter("dcp.detector.spans",
		metric.WithDescription("Spans kept after the per-detector score filter"))
	if err != nil {
		detectSpans, _ = meter.Int64Counter("dcp.detector.spans.fallback")
	}
}

func recordCall(ctx context.Context, name string, ms float64, spans int, failed bool) {
	attrs := metric.WithAttributes(dcpotel.DetectorName.String(name))
	detectDuration.Record(ctx, ms, attrs)
	if failed {
		detectErrors.Add(ctx, 1, attrs)
		return
	}
	detectSpans.Add(ctx, int64(spans), attrs)
}
