package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func shutdownWithTimeout(t *testing.T, shutdown func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetup_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(Options{ServiceName: "dcpguard", Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.Equal(t, before, otel.GetTracerProvider(), "disabled setup installs nothing")
	shutdownWithTimeout(t, shutdown)
}

func TestSetup_ExportsToWriter(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	var buf bytes.Buffer
	shutdown, err := Setup(Options{ServiceName: "dcpguard", Version: "dev", Enabled: true, Writer: &buf})
	require.NoError(t, err)

	_, span := Tracer("github.com/dativo-io/dcpguard/internal/otel/test").Start(context.Background(), "detector.ensemble")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().HasTraceID())
	span.End()

	shutdownWithTimeout(t, shutdown)
	assert.Contains(t, buf.String(), "detector.ensemble")
	assert.Contains(t, buf.String(), "dcpguard")
}

func TestTracer_NoopWithoutSetup(t *testing.T) {
	_, span := Tracer("github.com/dativo-io/dcpguard/internal/noop").Start(context.Background(), "noop.operation")
	defer span.End()
	assert.False(t, span.IsRecording())
}

func TestMeter_ReturnsInstruments(t *testing.T) {
	c, err := Meter("github.com/dativo-io/dcpguard/internal/otel/test").Int64Counter("dcp.test.counter")
	require.NoError(t, err)
	c.Add(context.Background(), 1)
}
