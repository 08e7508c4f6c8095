package jobs

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var meter = dcpotel.Meter("github.com/dativo-io/dcpguard/internal/jobs")

var (
	transitionsTotal metric.Int64Counter
	jobDuration      metric.Float64Histogram
	persistFailures  metric.Int64Counter
)

func init() {
	var err error
	transitionsTotal, err = meter.Int64Counter("dcp.jobs.transitions",
		metric.WithDescription("Job lifecycle transitions by status"))
	if err != nil {
		transitionsTotal, _ = meter.Int64Counter("dcp.jobs.transitions.fallback")
	}

	jobDuration, err = meter.Float64Histogram("dcp.jobs.duration_ms",
		metric.WithDescription("Time from running to a terminal status"),
		metric.WithUnit("ms"))
	if err != nil {
		jobDuration, _ = meter.Float64Histogram("dcp.jobs.duration_ms.fallback")
	}

	persistFailures, err = meter.Int64Counter("dcp.jobs.persist_failures",
		metric.WithDescription("Job transitions the persister failed to record"))
	if err != nil {
		persistFailures, _ = meter.Int64Counter("dcp.jobs.persist_failures.fallback")
	}
}

func recordTransition(ctx context.Context, j Job) {
	attrs := metric.WithAttributes(dcpotel.JobKind.String(j.Kind), dcpotel.JobStatus.String(string(j.Status)))
	transitionsTotal.Add(ctx, 1, attrs)
	if j.Status.Terminal() {
		jobDuration.Record(ctx, float64(j.Duration().Microseconds())/1000, attrs)
	}
}
