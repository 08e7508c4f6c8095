// Package resolve reduces the noisy, overlapping span multiset produced by an
// ensemble of detectors into one non-overlapping, de-duplicated set suitable
// for redaction.
//
// The pipeline runs in a fixed order:
//
//	A. score filter
//	B. known false-positive suppression
//	C. priority-based overlap merge (touching spans count as overlapping)
//	D. adjacent PERSON merge
//	E. summary by label
//
// Every stage uses stable sorts so the output only depends on the input
// multiset, never on the order detectors reported their spans.
package resolve

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/dcpguard/internal/dcp"
	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/resolve")

// DefaultMaxGap is the largest number of bytes allowed between two PERSON
// fragments for them to be merged into one span.
const DefaultMaxGap = 1

// MergedMetadataKey marks spans produced by the adjacent PERSON merge.
const MergedMetadataKey = "merged"

// Options selects which stages run.
type Options struct {
	MinScore     float64
	Merge        bool
	MergePersons bool
	MaxGap       int
}

// DefaultOptions merges overlaps and adjacent persons with no score floor.
func DefaultOptions() Options {
	return Options{Merge: true, MergePersons: true, MaxGap: DefaultMaxGap}
}

// Result is the resolved span set and its per-label summary.
type Result struct {
	Spans   []dcp.Span  `json:"spans"`
	Summary dcp.Summary `json:"summary"`
}

// Resolver applies the resolution pipeline using a priority table.
type Resolver struct {
	prio *Priorities
}

// New returns a Resolver using prio. A nil table selects the embedded defaults.
func New(prio *Priorities) *Resolver {
	if prio == nil {
		prio = MustDefaultPriorities()
	}
	return &Resolver{prio: prio}
}

// Priorities returns the table the resolver was built with.
func (r *Resolver) Priorities() *Priorities {
	return r.prio
}

// Resolve runs stages A through E with opts.
func (r *Resolver) Resolve(ctx context.Context, spans []dcp.Span, opts Options) Result {
	_, span := tracer.Start(ctx, "resolve.finalize")
	defer span.End()

	out := r.Finalize(spans, opts)

	span.SetAttributes(
		attribute.Int("spans.in", len(spans)),
		attribute.Int("spans.out", len(out)),
	)
	return Result{Spans: out, Summary: dcp.Summarize(out)}
}

// Finalize runs stages A through D and returns the resulting spans. The input
// slice is not modified.
func (r *Resolver) Finalize(spans []dcp.Span, opts Options) []dcp.Span {
	items := FilterScore(spans, opts.MinScore)
	items = r.SuppressFalsePositives(items)
	if opts.Merge {
		items = r.MergeOverlaps(items)
	}
	if opts.MergePersons {
		items = r.MergeAdjacentPersons(items, opts.MaxGap)
	}
	return items
}

// FilterScore keeps spans whose score is at least minScore.
func FilterScore(spans []dcp.Span, minScore float64) []dcp.Span {
	out := make([]dcp.Span, 0, len(spans))
	for _, s := range spans {
		if s.Score >= minScore {
			out = append(out, s)
		}
	}
	return out
}

// SuppressFalsePositives drops OTHER spans from low-precision sources that
// overlap a strictly longer IBAN span. Spans from other sources are kept.
func (r *Resolver) SuppressFalsePositives(spans []dcp.Span) []dcp.Span {
	var ibans []dcp.Span
	for _, s := range spans {
		if s.Label == dcp.LabelIBAN {
			ibans = append(ibans, s)
		}
	}

	out := make([]dcp.Span, 0, len(spans))
	for _, s := range spans {
		if s.Label == dcp.LabelOther && r.prio.isFalsePositiveSource(s.Source) && insideLongerIBAN(s, ibans) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func insideLongerIBAN(s dcp.Span, ibans []dcp.Span) bool {
	for _, iban := range ibans {
		if s.Overlaps(iban) && iban.Len() > s.Len() {
			return true
		}
	}
	return false
}

// Better returns whichever of a and b should survive when they overlap:
// higher label priority, then higher detector priority, then higher score,
// then the longer span. A full tie keeps a.
func (r *Resolver) Better(a, b dcp.Span) dcp.Span {
	if la, lb := r.prio.Label(a.Label), r.prio.Label(b.Label); la != lb {
		if la > lb {
			return a
		}
		return b
	}
	if da, db := r.prio.Detector(a.Source), r.prio.Detector(b.Source); da != db {
		if da > db {
			return a
		}
		return b
	}
	if a.Score != b.Score {
		if a.Score > b.Score {
			return a
		}
		return b
	}
	if a.Len() >= b.Len() {
		return a
	}
	return b
}

// MergeOverlaps collapses every run of overlapping or touching spans into the
// single best span of the run.
func (r *Resolver) MergeOverlaps(spans []dcp.Span) []dcp.Span {
	items := append([]dcp.Span(nil), spans...)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		// Full key ties are ordered by label then source so that the winner
		// picked by Better does not depend on input order.
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.Source < b.Source
	})

	out := make([]dcp.Span, 0, len(items))
	for _, s := range items {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		last := len(out) - 1
		if s.Start <= out[last].End {
			out[last] = r.Better(out[last], s)
			continue
		}
		out = append(out, s)
	}
	return out
}

// MergeAdjacentPersons joins PERSON spans separated by at most maxGap bytes,
// compensating for NER models that emit first and last names separately.
func (r *Resolver) MergeAdjacentPersons(spans []dcp.Span, maxGap int) []dcp.Span {
	items := append([]dcp.Span(nil), spans...)
	dcp.SortByPosition(items)

	out := make([]dcp.Span, 0, len(items))
	for _, s := range items {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if s.Label == dcp.LabelPerson && prev.Label == dcp.LabelPerson && s.Start <= prev.End+maxGap {
				out[n-1] = r.joinPersons(prev, s)
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func (r *Resolver) joinPersons(prev, next dcp.Span) dcp.Span {
	var text *string
	if prev.Text != nil && next.Text != nil {
		text = dcp.StringPtr(*prev.Text + *next.Text)
	}

	source := prev.Source
	if r.prio.Detector(next.Source) > r.prio.Detector(prev.Source) {
		source = next.Source
	}

	meta := make(map[string]any, len(prev.Metadata)+len(next.Metadata)+1)
	for k, v := range prev.Metadata {
		meta[k] = v
	}
	for k, v := range next.Metadata {
		meta[k] = v
	}
	meta[MergedMetadataKey] = "adjacent_persons"

	end := next.End
	if prev.End > end {
		end = prev.End
	}

	return dcp.Span{
		Start:    prev.Start,
		End:      end,
		Label:    dcp.LabelPerson,
		Score:    max(prev.Score, next.Score),
		Source:   source,
		Text:     text,
		Metadata: meta,
	}
}
