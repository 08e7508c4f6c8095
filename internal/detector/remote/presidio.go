package remote

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/internal/detector"
	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/detector/remote")

// PresidioName is the registry name and span source of the Presidio detector.
const PresidioName = "presidio"

// ErrNotConfigured is returned by factories whose service URL is empty.
var ErrNotConfigured = errors.New("service url not configured")

// presidioEntities maps Presidio entity types to DCP labels. Unmapped types
// become OTHER.
var presidioEntities = map[string]dcp.Label{
	"PERSON":          dcp.LabelPerson,
	"EMAIL_ADDRESS":   dcp.LabelEmail,
	"PHONE_NUMBER":    dcp.LabelPhone,
	"IBAN_CODE":       dcp.LabelIBAN,
	"LOCATION":        dcp.LabelLocation,
	"DATE_TIME":       dcp.LabelDate,
	"CREDIT_CARD":     dcp.LabelFinance,
	"US_BANK_NUMBER":  dcp.LabelFinance,
	"US_SSN":          dcp.LabelIDNumber,
	"FR_NIR":          dcp.LabelIDNumber,
	"US_PASSPORT":     dcp.LabelIDNumber,
	"MEDICAL_LICENSE": dcp.LabelHealth,
	"ORGANIZATION":    dcp.LabelOrg,
	"NRP":             dcp.LabelOther,
	"IP_ADDRESS":      dcp.LabelOther,
	"URL":             dcp.LabelOther,
}

// PresidioLabel maps a Presidio entity type to a label.
func PresidioLabel(entityType string) dcp.Label {
	if l, ok := presidioEntities[entityType]; ok {
		return l
	}
	return dcp.LabelOther
}

// Presidio calls a Presidio Analyzer's POST /analyze endpoint.
type Presidio struct {
	url string
	settings
}

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// NewPresidio creates a client for the analyzer at baseURL. By default only
// fr and en are sent, other languages fall back to en.
func NewPresidio(baseURL string, opts ...Option) *Presidio {
	opts = append([]Option{WithLanguages("en", "en", "fr")}, opts...)
	return &Presidio{url: endpoint(baseURL, "/analyze"), settings: newSettings(opts)}
}

// PresidioFactory returns a registry factory. It fails when baseURL is empty.
func PresidioFactory(baseURL string, opts ...Option) detector.Factory {
	return func(context.Context) (detector.Detector, error) {
		if baseURL == "" {
			return nil, ErrNotConfigured
		}
		return NewPresidio(baseURL, opts...), nil
	}
}

// Detect analyzes text and converts results to spans. The Presidio entity
// type is kept in the span metadata.
func (p *Presidio) Detect(ctx context.Context, text, language string) ([]dcp.Span, error) {
	ctx, span := tracer.Start(ctx, "presidio.analyze")
	defer span.End()

	lang := p.language(language)
	var results []analyzeResult
	if err := postJSON(ctx, p.client, p.url, analyzeRequest{Text: text, Language: lang}, &results); err != nil {
		return nil, err
	}

	offsets := runeOffsets(text)
	spans := make([]dcp.Span, 0, len(results))
	for _, r := range results {
		start, end, err := byteRange(offsets, r.Start, r.End)
		if err != nil {
			log.Warn().Err(err).Str("detector", PresidioName).Str("entity_type", r.EntityType).Msg("remote_span_skipped")
			continue
		}
		spans = append(spans, dcp.Span{
			Start:  start,
			End:    end,
			Label:  PresidioLabel(r.EntityType),
			Score:  clampScore(r.Score),
			Source: PresidioName,
			Text:   dcp.StringPtr(text[start:end]),
			Metadata: map[string]any{
				"entity_type": r.EntityType,
				"engine_lang": lang,
			},
		})
	}
	span.SetAttributes(dcpotel.SpanCount.Int(len(spans)))
	return spans, nil
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
