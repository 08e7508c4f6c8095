// Package scan runs the detector ensemble over every resource under a
// connector root and aggregates the findings.
package scan

import (
	"context"
	"fmt"
	"html"
	"path"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/dativo-io/dcpguard/internal/connector"
	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/internal/detector"
	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/scan")

const (
	// DefaultLimit caps the number of resources one scan visits.
	DefaultLimit = 200
	// DefaultParallelism is the number of resources scanned at once.
	DefaultParallelism = 4
)

// Request describes one scan.
type Request struct {
	// Connector optionally names the backend ("filesystem" or "s3"); it
	// must agree with the scheme of Root.
	Connector string   `json:"connector,omitempty"`
	Root      string   `json:"root"`
	Recursive bool     `json:"recursive"`
	Language  string   `json:"language"`
	Detectors []string `json:"detectors"`
	MinScore  float64  `json:"min_score"`
	Limit     int      `json:"limit"`
}

// ResourceResult is the outcome for one resource.
type ResourceResult struct {
	URI     string             `json:"uri"`
	Kind    string             `json:"kind"`
	Summary dcp.Summary        `json:"summary"`
	Errors  dcp.DetectorErrors `json:"errors"`
	Count   int                `json:"count"`
}

// Report aggregates a scan.
type Report struct {
	Scanned int              `json:"scanned"`
	Results []ResourceResult `json:"results"`
	Summary dcp.Summary      `json:"summary"`
}

// Map converts the report into a job result.
func (r *Report) Map() map[string]any {
	return map[string]any{
		"scanned": r.Scanned,
		"results": r.Results,
		"summary": r.Summary,
	}
}

// Scanner lists resources through a connector router and runs the ensemble
// over each text resource.
type Scanner struct {
	connectors  *connector.Router
	runner      *detector.Runner
	parallelism int
}

// New creates a Scanner. parallelism <= 0 uses DefaultParallelism.
func New(connectors *connector.Router, runner *detector.Runner, parallelism int) *Scanner {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Scanner{connectors: connectors, runner: runner, parallelism: parallelism}
}

// Scan visits up to req.Limit resources under req.Root. Per-resource read and
// detector failures are recorded in that resource's errors; only an unknown
// detector name, an unsupported scheme or a listing failure fail the scan.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Report, error) {
	ctx, span := tracer.Start(ctx, "scan.run")
	defer span.End()
	span.SetAttributes(attribute.String("dcp.scan.root", req.Root), dcpotel.Language.String(req.Language))

	if err := s.Validate(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	conn, err := s.connectors.For(req.Root)
	if err != nil {
		return nil, err
	}
	resources, err := conn.List(ctx, req.Root, req.Recursive)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(resources) > limit {
		resources = resources[:limit]
	}

	results := make([]ResourceResult, len(resources))
	spans := make([][]dcp.Span, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, res := range resources {
		i, res := i, res
		g.Go(func() error {
			found, result, err := s.scanOne(gctx, conn, res, req)
			if err != nil {
				return err
			}
			results[i] = result
			spans[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var all []dcp.Span
	for _, found := range spans {
		all = append(all, found...)
	}
	report := &Report{
		Scanned: len(resources),
		Results: results,
		Summary: dcp.Summarize(all),
	}
	span.SetAttributes(attribute.Int("dcp.scan.resources", report.Scanned), dcpotel.SpanCount.Int(len(all)))
	log.Info().Str("root", req.Root).Int("scanned", report.Scanned).Int("spans", len(all)).Msg("scan_completed")
	return report, nil
}

// Validate checks that every detector is registered, that the named
// connector matches the root and that a connector handles the root, without
// touching storage.
func (s *Scanner) Validate(req Request) error {
	for _, name := range req.Detectors {
		if !s.runner.Registry().Has(name) {
			return fmt.Errorf("%w: %s", detector.ErrUnknownCapability, name)
		}
	}
	if err := connector.CheckName(req.Connector, req.Root); err != nil {
		return err
	}
	_, err := s.connectors.For(req.Root)
	return err
}

// scanOne returns an error only for cancellation; everything else lands in
// the resource's errors map.
func (s *Scanner) scanOne(ctx context.Context, conn connector.Connector, res connector.Resource, req Request) ([]dcp.Span, ResourceResult, error) {
	out := ResourceResult{URI: res.URI, Kind: res.Kind, Summary: dcp.Summary{}, Errors: dcp.DetectorErrors{}}
	if err := ctx.Err(); err != nil {
		return nil, out, err
	}
	if res.Kind != connector.KindText {
		out.Errors["extract"] = fmt.Sprintf("no text extractor for %s resources", res.Kind)
		return nil, out, nil
	}

	text, err := conn.ReadText(ctx, res.URI)
	if err != nil {
		out.Errors["read"] = err.Error()
		log.Warn().Err(err).Str("uri", res.URI).Msg("scan_read_failed")
		return nil, out, nil
	}
	if isMarkup(res.URI) {
		text = stripMarkup(text)
	}

	result, err := s.runner.Detect(ctx, detector.DetectRequest{
		Text:          text,
		Language:      req.Language,
		Detectors:     req.Detectors,
		MinScore:      req.MinScore,
		MergeOverlaps: true,
		BestEffort:    true,
	})
	if err != nil {
		return nil, out, err
	}
	out.Summary = result.Summary
	out.Errors = result.Errors
	out.Count = len(result.Spans)
	return result.Spans, out, nil
}

// isMarkup reports whether uri names an HTML or XML document.
func isMarkup(uri string) bool {
	switch strings.ToLower(path.Ext(uri)) {
	case ".html", ".htm", ".xml":
		return true
	}
	return false
}

// stripMarkup keeps only the visible text of a markup document. Script and
// style bodies, comments and attribute values are dropped so they are not
// reported as findings.
func stripMarkup(text string) string {
	return html.UnescapeString(bluemonday.StrictPolicy().Sanitize(text))
}
