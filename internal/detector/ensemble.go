package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/dcpguard/internal/dcp"
	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
	"github.com/dativo-io/dcpguard/internal/resolve"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/detector")

// DetectRequest selects the detectors and post-processing of one ensemble run.
type DetectRequest struct {
	Text      string
	Language  string
	Detectors []string
	MinScore  float64
	// MergeOverlaps runs the span resolver over the pooled spans. When false
	// the result is the raw concatenation of every detector's spans.
	MergeOverlaps bool
	// KeepText keeps the materialized substring on each span.
	KeepText bool
	// BestEffort records per-detector failures in Errors and keeps going.
	// When false the first failure aborts the run and is returned.
	BestEffort bool
}

// DetectResult is the outcome of an ensemble run.
type DetectResult struct {
	Spans      []dcp.Span            `json:"spans"`
	ByDetector map[string][]dcp.Span `json:"by_detector"`
	Order      []string              `json:"order"`
	Summary    dcp.Summary           `json:"summary"`
	Errors     dcp.DetectorErrors    `json:"errors"`
}

// Outcome is the explicit result of running one detector.
type Outcome struct {
	Name     string
	Spans    []dcp.Span
	Err      error
	Duration time.Duration
}

// Runner executes ensembles of detectors resolved through a Registry.
type Runner struct {
	registry *Registry
	resolver *resolve.Resolver
	maxGap   int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxGap overrides the gap allowed between merged PERSON fragments.
func WithMaxGap(gap int) RunnerOption {
	return func(r *Runner) { r.maxGap = gap }
}

// NewRunner builds a Runner. A nil resolver uses the default priority tables.
func NewRunner(registry *Registry, resolver *resolve.Resolver, opts ...RunnerOption) *Runner {
	if resolver == nil {
		resolver = resolve.New(nil)
	}
	r := &Runner{registry: registry, resolver: resolver, maxGap: resolve.DefaultMaxGap}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Registry returns the registry the runner resolves detectors from.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Detect runs every requested detector, in order, over req.Text.
func (r *Runner) Detect(ctx context.Context, req DetectRequest) (*DetectResult, error) {
	ctx, span := tracer.Start(ctx, "detector.ensemble",
		trace.WithAttributes(dcpotel.DetectAttributes(req.Language, len(req.Detectors), req.BestEffort)...))
	defer span.End()

	// Unknown names are a request error even in best-effort mode, so they are
	// rejected before any detector runs.
	for _, name := range req.Detectors {
		if !r.registry.Has(name) {
			err := unknownCapability(name)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	res := &DetectResult{
		ByDetector: make(map[string][]dcp.Span, len(req.Detectors)),
		Order:      append([]string(nil), req.Detectors...),
		Errors:     make(dcp.DetectorErrors),
	}
	var pooled []dcp.Span

	for _, name := range req.Detectors {
		out := r.RunOne(ctx, name, req.Text, req.Language, req.MinScore, req.KeepText)
		if out.Err != nil {
			res.Errors[name] = out.Err.Error()
			res.ByDetector[name] = []dcp.Span{}
			if !req.BestEffort {
				span.SetStatus(codes.Error, out.Err.Error())
				return nil, out.Err
			}
			continue
		}
		res.ByDetector[name] = out.Spans
		pooled = append(pooled, out.Spans...)
	}

	if req.MergeOverlaps {
		res.Spans = r.resolver.Finalize(pooled, resolve.Options{
			MinScore:     req.MinScore,
			Merge:        true,
			MergePersons: true,
			MaxGap:       r.maxGap,
		})
	} else {
		res.Spans = pooled
	}
	if res.Spans == nil {
		res.Spans = []dcp.Span{}
	}
	res.Summary = dcp.Summarize(res.Spans)

	span.SetAttributes(
		dcpotel.SpanCount.Int(len(res.Spans)),
		attribute.Int("dcp.error_count", len(res.Errors)),
	)
	return res, nil
}

// RunOne resolves and runs a single detector, applying the score filter and
// text stripping. It never panics: detector panics become a DetectionError.
func (r *Runner) RunOne(ctx context.Context, name, text, language string, minScore float64, keepText bool) Outcome {
	ctx, span := tracer.Start(ctx, "detector.detect",
		trace.WithAttributes(dcpotel.DetectorName.String(name), dcpotel.Language.String(language)))
	defer span.End()

	start := time.Now()
	spans, err := r.invoke(ctx, name, text, language)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordCall(ctx, name, durationMS(elapsed), 0, true)
		log.Warn().Err(err).Str("detector", name).Func(dcpotel.LogTraceFields(ctx)).Msg("detector_failed")
		return Outcome{Name: name, Err: err, Duration: elapsed}
	}

	kept := make([]dcp.Span, 0, len(spans))
	for _, s := range spans {
		if s.Score < minScore {
			continue
		}
		if err := s.Validate(len(text)); err != nil {
			log.Warn().Err(err).Str("detector", name).Msg("detector_span_invalid")
			continue
		}
		if s.Source == "" {
			s.Source = name
		}
		switch {
		case !keepText:
			s.Text = nil
		case s.Text == nil:
			s.Text = dcp.StringPtr(text[s.Start:s.End])
		}
		kept = append(kept, s)
	}

	span.SetAttributes(dcpotel.SpanCount.Int(len(kept)))
	recordCall(ctx, name, durationMS(elapsed), len(kept), false)
	return Outcome{Name: name, Spans: kept, Duration: elapsed}
}

func (r *Runner) invoke(ctx context.Context, name, text, language string) (spans []dcp.Span, err error) {
	d, err := r.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			spans, err = nil, &DetectionError{Name: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	spans, err = d.Detect(ctx, text, language)
	if err != nil {
		return nil, &DetectionError{Name: name, Err: err}
	}
	return spans, nil
}

// BenchEntry is the benchmark measurement of one detector.
type BenchEntry struct {
	OK       bool        `json:"ok"`
	Error    *string     `json:"error"`
	TimeMS   float64     `json:"time_ms"`
	Entities int         `json:"entities"`
	Summary  dcp.Summary `json:"summary"`
}

// BenchReport maps detector names to their measurements.
type BenchReport map[string]BenchEntry

// BenchRequest selects the detectors to benchmark.
type BenchRequest struct {
	Text      string
	Language  string
	Detectors []string
	MinScore  float64
}

// Bench times each detector independently over the same text. Failures are
// reported per detector and never abort the batch, and no merging happens
// across detectors.
func (r *Runner) Bench(ctx context.Context, req BenchRequest) BenchReport {
	ctx, span := tracer.Start(ctx, "detector.bench",
		trace.WithAttributes(dcpotel.DetectAttributes(req.Language, len(req.Detectors), true)...))
	defer span.End()

	report := make(BenchReport, len(req.Detectors))
	for _, name := range req.Detectors {
		out := r.RunOne(ctx, name, req.Text, req.Language, req.MinScore, false)
		entry := BenchEntry{
			OK:       out.Err == nil,
			TimeMS:   durationMS(out.Duration),
			Entities: len(out.Spans),
			Summary:  dcp.Summarize(out.Spans),
		}
		if out.Err != nil {
			msg := out.Err.Error()
			entry.Error = &msg
		}
		report[name] = entry
	}
	return report
}

// durationMS converts d to milliseconds rounded to two decimals.
func durationMS(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
