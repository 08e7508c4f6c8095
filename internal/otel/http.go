package otel

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const httpScope = "github.com/dativo-io/dcpguard/internal/otel/http"

// HTTPMiddleware starts one server span per request and records the request
// duration histogram dcp.http.duration_ms by route and status. Handler spans
// (detector runs, job submission) become children of the request span.
// Requests whose path is listed in skip (health probes) are passed through
// untraced.
func HTTPMiddleware(skip ...string) func(next http.Handler) http.Handler {
	tr := Tracer(httpScope)
	duration, _ := Meter(httpScope).Float64Histogram("dcp.http.duration_ms",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"))
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ctx, span := tr.Start(r.Context(), "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				))
			defer span.End()
			if id := middleware.GetReqID(ctx); id != "" {
				span.SetAttributes(attribute.String("dcp.request_id", id))
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// The route is only known once chi has matched the request.
			route := routePattern(r)
			span.SetName("HTTP " + r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
				attribute.Int("http.response.body.size", ww.BytesWritten()),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			if duration != nil {
				duration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
					metric.WithAttributes(
						attribute.String("http.route", route),
						attribute.Int("http.response.status_code", status),
					))
			}
		})
	}
}

// routePattern returns the matched chi pattern, e.g. "/v1/jobs/{id}", so
// span names do not carry job ids. Unmatched requests report the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
