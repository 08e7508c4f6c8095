package otel

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// TraceContextFrom returns the hex trace and span ids of the span in ctx, or
// two empty strings when ctx carries no valid span (OTel disabled).
func TraceContextFrom(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// LogTraceFields is a zerolog hook adding trace_id and span_id to one event:
//
//	log.Warn().Err(err).Str("detector", name).Func(otel.LogTraceFields(ctx)).Msg("detector_failed")
//
// Nothing is added when ctx has no span, so logs stay clean with OTel off.
func LogTraceFields(ctx context.Context) func(e *zerolog.Event) {
	traceID, spanID := TraceContextFrom(ctx)
	return func(e *zerolog.Event) {
		if traceID == "" {
			return
		}
		e.Str("trace_id", traceID).Str("span_id", spanID)
	}
}

// Logger returns the global logger carrying the trace ids of ctx. Job workers
// use it so their events line up with the request span that enqueued them.
func Logger(ctx context.Context) zerolog.Logger {
	traceID, spanID := TraceContextFrom(ctx)
	if traceID == "" {
		return log.Logger
	}
	return log.With().Str("trace_id", traceID).Str("span_id", spanID).Logger()
}
