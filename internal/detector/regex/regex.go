// Package regex implements the "regex" detector: YAML-configured recognizers
// with checksum gates and context-word score boosting.
package regex

import (
	"context"
	"fmt"
	"strings"

	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/internal/detector"
	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/detector/regex")

// Name is the registry name and span source of this detector.
const Name = "regex"

const (
	// ContextSimilarityFactor is added to a match score when a context word
	// appears near the match.
	ContextSimilarityFactor = 0.35

	// ContextWindowBytes is how far before and after a match context words
	// are searched.
	ContextWindowBytes = 100
)

// Detector scans text with compiled recognizers.
type Detector struct {
	patterns []compiledPattern
}

// Option configures a Detector.
type Option func(*options)

type options struct {
	patternFile string
	custom      []RecognizerConfig
	disabled    []string
}

// WithPatternFile layers recognizers from a YAML file over the embedded set.
// A missing file is ignored.
func WithPatternFile(path string) Option {
	return func(o *options) { o.patternFile = path }
}

// WithRecognizers layers the given recognizers over the embedded set and any
// pattern file.
func WithRecognizers(recs []RecognizerConfig) Option {
	return func(o *options) { o.custom = recs }
}

// WithDisabled removes recognizers by name.
func WithDisabled(names []string) Option {
	return func(o *options) { o.disabled = names }
}

// New compiles the embedded recognizers plus any overrides.
func New(opts ...Option) (*Detector, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	defaults, err := DefaultRecognizers()
	if err != nil {
		return nil, err
	}
	var fileRecs []RecognizerConfig
	if o.patternFile != "" {
		rf, err := LoadRecognizerFile(o.patternFile)
		if err != nil {
			return nil, err
		}
		if rf != nil {
			fileRecs = rf.Recognizers
		}
	}

	merged := MergeRecognizers(defaults, fileRecs, o.custom)
	if len(o.disabled) > 0 {
		blocked := make(map[string]bool, len(o.disabled))
		for _, n := range o.disabled {
			blocked[n] = true
		}
		kept := merged[:0]
		for _, r := range merged {
			if !blocked[r.Name] {
				kept = append(kept, r)
			}
		}
		merged = kept
	}

	compiled, err := compile(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling recognizers: %w", err)
	}
	return &Detector{patterns: compiled}, nil
}

// Factory returns a registry factory building a Detector with opts.
func Factory(opts ...Option) detector.Factory {
	return func(context.Context) (detector.Detector, error) {
		return New(opts...)
	}
}

// Detect returns every validated match. Overlapping matches from different
// recognizers are all reported; reconciliation is the resolver's job.
func (d *Detector) Detect(ctx context.Context, text, language string) ([]dcp.Span, error) {
	_, span := tracer.Start(ctx, "regex.detect")
	defer span.End()

	var out []dcp.Span
	for _, p := range d.patterns {
		for _, m := range p.re.FindAllStringIndex(text, -1) {
			value := text[m[0]:m[1]]
			if !p.passes(value) {
				continue
			}
			out = append(out, dcp.Span{
				Start:  m[0],
				End:    m[1],
				Label:  p.label,
				Score:  boostScore(text, m[0], m[1], p.score, p.context[language]),
				Source: Name,
				Text:   dcp.StringPtr(value),
				Metadata: map[string]any{
					"recognizer": p.recognizer,
					"pattern":    p.name,
				},
			})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	span.SetAttributes(dcpotel.SpanCount.Int(len(out)))
	return out, nil
}

func (p *compiledPattern) passes(value string) bool {
	switch p.validate {
	case ValidateIBAN:
		clean := strings.ReplaceAll(value, " ", "")
		return validIBANLength(clean) && validIBANChecksum(clean)
	case ValidateLuhn:
		return luhnValid(stripNonDigits(value))
	}
	return true
}

// boostScore adds ContextSimilarityFactor when any context word appears
// within ContextWindowBytes of the match. The result never exceeds 1.
func boostScore(text string, start, end int, base float64, words []string) float64 {
	if len(words) == 0 {
		return base
	}
	lo := start - ContextWindowBytes
	if lo < 0 {
		lo = 0
	}
	hi := end + ContextWindowBytes
	if hi > len(text) {
		hi = len(text)
	}
	window := strings.ToLower(text[lo:start] + " " + text[end:hi])
	for _, w := range words {
		if strings.Contains(window, w) {
			if boosted := base + ContextSimilarityFactor; boosted < 1 {
				return boosted
			}
			return 1
		}
	}
	return base
}
