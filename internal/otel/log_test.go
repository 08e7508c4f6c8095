package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func spanContext(t *testing.T) context.Context {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	assert.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	assert.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceContextFrom(t *testing.T) {
	traceID, spanID := TraceContextFrom(context.Background())
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)

	traceID, spanID = TraceContextFrom(spanContext(t))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
	assert.Equal(t, "00f067aa0ba902b7", spanID)
}

func TestLogTraceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	logger.Info().Func(LogTraceFields(context.Background())).Msg("no_span")
	assert.NotContains(t, buf.String(), "trace_id")

	buf.Reset()
	logger.Info().Func(LogTraceFields(spanContext(t))).Msg("with_span")
	assert.Contains(t, buf.String(), `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`)
	assert.Contains(t, buf.String(), `"span_id":"00f067aa0ba902b7"`)
}

func TestLogger_WithoutSpanReturnsGlobal(t *testing.T) {
	l := Logger(context.Background())
	l.Debug().Msg("no trace fields")
}
