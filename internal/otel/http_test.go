package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer provider for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestHTTPMiddleware_NamesSpanByRoute(t *testing.T) {
	spans := recordSpans(t)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware("/health"))
	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc123", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	ended := spans.Ended()
	require.Len(t, ended, 1, "health probes are not traced")
	assert.Equal(t, "HTTP GET /v1/jobs/{id}", ended[0].Name())
}

func TestHTTPMiddleware_ServerErrorSetsStatus(t *testing.T) {
	spans := recordSpans(t)

	h := HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/detect/text", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "HTTP POST /v1/detect/text", ended[0].Name())
	assert.Equal(t, "Error", ended[0].Status().Code.String())
}

func TestHTTPMiddleware_ImplicitOK(t *testing.T) {
	h := HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
