package anonymize

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/dcpguard/internal/dcp"
)

const contact = "Contact: a@b.com"

var emailSpan = dcp.Span{Start: 9, End: 16, Label: dcp.LabelEmail, Score: 0.95, Source: "regex"}

func TestAnonymize_Strategies(t *testing.T) {
	a := New("dcp_eval_salt")
	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyRedact, "Contact: <EMAIL>"},
		{StrategyMask, "Contact: *******"},
		{StrategyHash, "Contact: <EMAIL:d319dbc37c54>"},
		{"", "Contact: <EMAIL>"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got, err := a.Anonymize(contact, []dcp.Span{emailSpan}, tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnonymize_HashIsStableAndSalted(t *testing.T) {
	a := New("s1")
	first, err := a.Anonymize(contact, []dcp.Span{emailSpan}, StrategyHash)
	require.NoError(t, err)
	second, err := a.Anonymize(contact, []dcp.Span{emailSpan}, StrategyHash)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Regexp(t, regexp.MustCompile(`^Contact: <EMAIL:[0-9a-f]{12}>$`), first)

	other, err := New("s2").Anonymize(contact, []dcp.Span{emailSpan}, StrategyHash)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	assert.Equal(t, "fb98d44ad750", New("").Token("a@b.com"))
}

func TestAnonymize_MultipleSpansAnyOrder(t *testing.T) {
	text := "Jean a@b.com 0612345678"
	spans := []dcp.Span{
		{Start: 13, End: 23, Label: dcp.LabelPhone},
		{Start: 0, End: 4, Label: dcp.LabelPerson},
		{Start: 5, End: 12, Label: dcp.LabelEmail},
	}
	got, err := New("").Anonymize(text, spans, StrategyRedact)
	require.NoError(t, err)
	assert.Equal(t, "<PERSON> <EMAIL> <PHONE>", got)
	assert.Equal(t, 13, spans[0].Start, "input must not be reordered")
}

func TestAnonymize_TouchingSpansAllowed(t *testing.T) {
	got, err := New("").Anonymize("JeanDupont", []dcp.Span{
		{Start: 0, End: 4, Label: dcp.LabelPerson},
		{Start: 4, End: 10, Label: dcp.LabelPerson},
	}, StrategyRedact)
	require.NoError(t, err)
	assert.Equal(t, "<PERSON><PERSON>", got)
}

func TestAnonymize_MaskCountsCharacters(t *testing.T) {
	got, err := New("").Anonymize("née Hélène", []dcp.Span{{Start: 5, End: 13, Label: dcp.LabelPerson}}, StrategyMask)
	require.NoError(t, err)
	assert.Equal(t, "née ******", got)
}

func TestAnonymize_NoSpans(t *testing.T) {
	got, err := New("").Anonymize(contact, nil, StrategyHash)
	require.NoError(t, err)
	assert.Equal(t, contact, got)
}

func TestAnonymize_RejectsUnsupportedInput(t *testing.T) {
	a := New("")
	tests := []struct {
		name     string
		spans    []dcp.Span
		strategy Strategy
		want     error
	}{
		{"overlap", []dcp.Span{{Start: 0, End: 5, Label: dcp.LabelPerson}, {Start: 3, End: 8, Label: dcp.LabelOrg}}, StrategyRedact, ErrOverlappingSpans},
		{"same start", []dcp.Span{{Start: 2, End: 4, Label: dcp.LabelPerson}, {Start: 2, End: 6, Label: dcp.LabelOrg}}, StrategyRedact, ErrOverlappingSpans},
		{"past end", []dcp.Span{{Start: 9, End: 40, Label: dcp.LabelEmail}}, StrategyRedact, ErrSpanOutOfRange},
		{"empty span", []dcp.Span{{Start: 3, End: 3, Label: dcp.LabelEmail}}, StrategyRedact, ErrSpanOutOfRange},
		{"strategy", []dcp.Span{emailSpan}, "shuffle", ErrUnknownStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Anonymize(contact, tt.spans, tt.strategy)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.True(t, errors.Is(err, ErrUnsupportedInput))
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyRedact, "MASK": StrategyMask, " hash ": StrategyHash, "redact": StrategyRedact} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("encrypt")
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
}

func TestCountByLabel(t *testing.T) {
	counts := CountByLabel([]dcp.Span{emailSpan, emailSpan, {Label: dcp.LabelPhone}})
	assert.Equal(t, dcp.Summary{dcp.LabelEmail: 2, dcp.LabelPhone: 1}, counts)
}
