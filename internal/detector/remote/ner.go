package remote

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/internal/detector"
)

// Registry names of the NER sidecar detectors.
const (
	SpacyName = "spacy"
	HFName    = "hf"
)

// nerLabels maps the tag sets of spaCy and common Hugging Face token
// classification models to DCP labels. Tags are compared upper-cased with
// any B-/I- prefix removed.
var nerLabels = map[string]dcp.Label{
	"PER":      dcp.LabelPerson,
	"PERSON":   dcp.LabelPerson,
	"ORG":      dcp.LabelOrg,
	"LOC":      dcp.LabelLocation,
	"GPE":      dcp.LabelLocation,
	"LOCATION": dcp.LabelLocation,
	"FAC":      dcp.LabelAddress,
	"ADDRESS":  dcp.LabelAddress,
	"DATE":     dcp.LabelDate,
	"MONEY":    dcp.LabelFinance,
	"MISC":     dcp.LabelOther,
}

// NERLabel maps a model tag to a label. Unknown tags become OTHER.
func NERLabel(tag string) dcp.Label {
	t := strings.ToUpper(tag)
	if len(t) > 2 && (t[:2] == "B-" || t[:2] == "I-") {
		t = t[2:]
	}
	if l, ok := nerLabels[t]; ok {
		return l
	}
	if l, err := dcp.ParseLabel(t); err == nil {
		return l
	}
	return dcp.LabelOther
}

// NER calls a sidecar's POST /classify endpoint.
type NER struct {
	name string
	url  string
	settings
}

type classifyRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type classifyResponse struct {
	Spans []nerSpan `json:"spans"`
}

type nerSpan struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Label string   `json:"label"`
	Score *float64 `json:"score"`
}

// NewNER creates a sidecar client whose spans carry name as their source.
func NewNER(name, baseURL string, opts ...Option) *NER {
	return &NER{name: name, url: endpoint(baseURL, "/classify"), settings: newSettings(opts)}
}

// NERFactory returns a registry factory. It fails when baseURL is empty.
func NERFactory(name, baseURL string, opts ...Option) detector.Factory {
	return func(context.Context) (detector.Detector, error) {
		if baseURL == "" {
			return nil, ErrNotConfigured
		}
		return NewNER(name, baseURL, opts...), nil
	}
}

// Detect classifies text. Spans without a score are reported with score 1.
func (n *NER) Detect(ctx context.Context, text, language string) ([]dcp.Span, error) {
	ctx, span := tracer.Start(ctx, "ner.classify")
	defer span.End()

	var resp classifyResponse
	req := classifyRequest{Text: text, Language: n.language(language)}
	if err := postJSON(ctx, n.client, n.url, req, &resp); err != nil {
		return nil, err
	}

	offsets := runeOffsets(text)
	spans := make([]dcp.Span, 0, len(resp.Spans))
	for _, s := range resp.Spans {
		start, end, err := byteRange(offsets, s.Start, s.End)
		if err != nil {
			log.Warn().Err(err).Str("detector", n.name).Str("tag", s.Label).Msg("remote_span_skipped")
			continue
		}
		score := 1.0
		if s.Score != nil {
			score = clampScore(*s.Score)
		}
		spans = append(spans, dcp.Span{
			Start:    start,
			End:      end,
			Label:    NERLabel(s.Label),
			Score:    score,
			Source:   n.name,
			Text:     dcp.StringPtr(text[start:end]),
			Metadata: map[string]any{"tag": s.Label},
		})
	}
	return spans, nil
}
