// Package dcp defines the span model shared by every detector, the resolver
// and the anonymizer.
//
// A Span is a labeled, scored, sourced byte range within a text. Spans are
// treated as immutable values: every stage that changes a span returns a new
// one instead of mutating its input.
package dcp

import (
	"fmt"
	"sort"
)

// Label is the DCP category of a span.
type Label string

// Closed set of DCP categories.
const (
	LabelPerson   Label = "PERSON"
	LabelEmail    Label = "EMAIL"
	LabelPhone    Label = "PHONE"
	LabelIBAN     Label = "IBAN"
	LabelAddress  Label = "ADDRESS"
	LabelLocation Label = "LOCATION"
	LabelIDNumber Label = "ID_NUMBER"
	LabelDate     Label = "DATE"
	LabelFinance  Label = "FINANCE"
	LabelHealth   Label = "HEALTH"
	LabelOrg      Label = "ORG"
	LabelOther    Label = "OTHER"
)

// Labels lists every valid category in declaration order.
var Labels = []Label{
	LabelPerson, LabelEmail, LabelPhone, LabelIBAN, LabelAddress, LabelLocation,
	LabelIDNumber, LabelDate, LabelFinance, LabelHealth, LabelOrg, LabelOther,
}

var validLabels = func() map[Label]bool {
	m := make(map[Label]bool, len(Labels))
	for _, l := range Labels {
		m[l] = true
	}
	return m
}()

// Valid reports whether l belongs to the closed category set.
func (l Label) Valid() bool {
	return validLabels[l]
}

// ParseLabel validates s as a category name.
func ParseLabel(s string) (Label, error) {
	l := Label(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown label %q", s)
	}
	return l, nil
}

// Span is one detection: the half-open byte range [Start, End) of the source
// text, its category, a confidence in [0,1] and the detector that produced it.
// Text is the materialized substring and may be nil when stripped.
type Span struct {
	Start    int            `json:"start"`
	End      int            `json:"end"`
	Label    Label          `json:"label"`
	Score    float64        `json:"score"`
	Source   string         `json:"source"`
	Text     *string        `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Overlaps reports whether s and o share at least one byte. Touching spans
// (s.End == o.Start) do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// WithoutText returns a copy of s with the materialized text cleared.
func (s Span) WithoutText() Span {
	s.Text = nil
	return s
}

// Validate checks offsets against a text of textLen bytes, the label and the score range.
func (s Span) Validate(textLen int) error {
	if s.Start < 0 || s.Start >= s.End || s.End > textLen {
		return fmt.Errorf("span [%d,%d) out of range for text of length %d", s.Start, s.End, textLen)
	}
	if !s.Label.Valid() {
		return fmt.Errorf("span [%d,%d): unknown label %q", s.Start, s.End, s.Label)
	}
	if s.Score < 0 || s.Score > 1 {
		return fmt.Errorf("span [%d,%d): score %v outside [0,1]", s.Start, s.End, s.Score)
	}
	return nil
}

// StringPtr returns a pointer to a copy of v. Detectors use it to fill Span.Text.
func StringPtr(v string) *string {
	return &v
}

// Summary counts spans per category.
type Summary map[Label]int

// Summarize tallies spans by label.
func Summarize(spans []Span) Summary {
	out := make(Summary)
	for _, s := range spans {
		out[s.Label]++
	}
	return out
}

// DetectorErrors maps a detector name to the description of its failure.
// A missing key means that detector succeeded, possibly with zero spans.
type DetectorErrors map[string]string

// SortByPosition sorts spans in place by (Start, End). The sort is stable.
func SortByPosition(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
}

// AnyOverlap reports whether any two spans in the slice overlap.
func AnyOverlap(spans []Span) bool {
	sorted := append([]Span(nil), spans...)
	SortByPosition(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return true
		}
	}
	return false
}
