package otel

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by the detection pipeline and the job queue.
const (
	DetectorName  = attribute.Key("dcp.detector")
	Language      = attribute.Key("dcp.language")
	SpanCount     = attribute.Key("dcp.span_count")
	DetectorCount = attribute.Key("dcp.detector_count")
	BestEffort    = attribute.Key("dcp.best_effort")
	JobID         = attribute.Key("dcp.job.id")
	JobKind       = attribute.Key("dcp.job.kind")
	JobStatus     = attribute.Key("dcp.job.status")
)

// DetectAttributes returns the attributes recorded on every ensemble run.
func DetectAttributes(language string, detectors int, bestEffort bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		Language.String(language),
		DetectorCount.Int(detectors),
		BestEffort.Bool(bestEffort),
	}
}

// JobAttributes returns the attributes recorded on job transitions.
func JobAttributes(id, kind, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		JobID.String(id),
		JobKind.String(kind),
		JobStatus.String(status),
	}
}
