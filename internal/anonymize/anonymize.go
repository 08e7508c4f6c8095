// Package anonymize rewrites text by substituting resolved DCP spans.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dativo-io/dcpguard/internal/dcp"
)

// Strategy selects how a span's text is substituted.
type Strategy string

const (
	// StrategyMask replaces each character with '*'.
	StrategyMask Strategy = "mask"
	// StrategyRedact replaces the span with "<LABEL>".
	StrategyRedact Strategy = "redact"
	// StrategyHash replaces the span with "<LABEL:H>", H being a salted digest prefix.
	StrategyHash Strategy = "hash"
)

// HashLength is the number of hex characters kept from the digest.
const HashLength = 12

var (
	// ErrUnsupportedInput is the class of every input the anonymizer refuses.
	ErrUnsupportedInput = errors.New("unsupported input")
	// ErrOverlappingSpans means two spans share at least one byte.
	ErrOverlappingSpans = fmt.Errorf("%w: overlapping spans", ErrUnsupportedInput)
	// ErrSpanOutOfRange means a span does not lie within the text.
	ErrSpanOutOfRange = fmt.Errorf("%w: span out of range", ErrUnsupportedInput)
	// ErrUnknownStrategy means the strategy name is not recognized.
	ErrUnknownStrategy = fmt.Errorf("%w: unknown strategy", ErrUnsupportedInput)
)

// ParseStrategy validates a strategy name. The empty string means redact.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyRedact:
		return StrategyRedact, nil
	case StrategyMask:
		return StrategyMask, nil
	case StrategyHash:
		return StrategyHash, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStrategy, s)
}

// Anonymizer substitutes spans. The salt makes hash tokens stable for one
// deployment without being reversible.
type Anonymizer struct {
	salt string
}

// New creates an Anonymizer with the given hash salt.
func New(salt string) *Anonymizer {
	return &Anonymizer{salt: salt}
}

// Anonymize returns text with every span replaced according to strategy.
// Spans must lie within text and must not overlap; touching spans are fine.
// Replacements are applied right to left so earlier offsets stay valid.
func (a *Anonymizer) Anonymize(text string, spans []dcp.Span, strategy Strategy) (string, error) {
	switch strategy {
	case StrategyMask, StrategyRedact, StrategyHash:
	case "":
		strategy = StrategyRedact
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownStrategy, strategy)
	}

	ordered := make([]dcp.Span, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	for i, s := range ordered {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			return "", fmt.Errorf("%w: [%d,%d) in text of %d bytes", ErrSpanOutOfRange, s.Start, s.End, len(text))
		}
		if i > 0 && s.End > ordered[i-1].Start {
			prev := ordered[i-1]
			return "", fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlappingSpans, s.Start, s.End, prev.Start, prev.End)
		}
	}

	out := text
	for _, s := range ordered {
		out = out[:s.Start] + a.replacement(out[s.Start:s.End], s.Label, strategy) + out[s.End:]
	}
	return out, nil
}

func (a *Anonymizer) replacement(chunk string, label dcp.Label, strategy Strategy) string {
	switch strategy {
	case StrategyMask:
		n := utf8.RuneCountInString(chunk)
		if n < 1 {
			n = 1
		}
		return strings.Repeat("*", n)
	case StrategyHash:
		return "<" + string(label) + ":" + a.Token(chunk) + ">"
	default:
		return "<" + string(label) + ">"
	}
}

// Token returns the salted digest prefix used by the hash strategy.
func (a *Anonymizer) Token(chunk string) string {
	sum := sha256.Sum256([]byte(a.salt + chunk))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// CountByLabel tallies spans per label.
func CountByLabel(spans []dcp.Span) dcp.Summary {
	return dcp.Summarize(spans)
}
