package regex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRecognizersCompile(t *testing.T) {
	recs, err := DefaultRecognizers()
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	compiled, err := compile(recs)
	require.NoError(t, err)
	assert.NotEmpty(t, compiled)
}

func TestParseRecognizerFile(t *testing.T) {
	rf, err := ParseRecognizerFile([]byte(`
recognizers:
  - name: iban
    supported_entity: IBAN_CODE
    label: IBAN
    validate: iban
    patterns:
      - name: compact
        regex: '\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b'
        score: 0.9
    supported_languages:
      - language: fr
        context: ["RIB"]
`))
	require.NoError(t, err)
	require.Len(t, rf.Recognizers, 1)

	r := rf.Recognizers[0]
	assert.Equal(t, "IBAN", r.Label)
	assert.Equal(t, ValidateIBAN, r.Validate)
	assert.True(t, r.isEnabled())
	require.Len(t, r.SupportedLanguages, 1)
	assert.Equal(t, []string{"RIB"}, r.SupportedLanguages[0].Context)
}

func TestParseRecognizerFileInvalidYAML(t *testing.T) {
	_, err := ParseRecognizerFile([]byte(`{{{invalid`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing recognizer YAML")
}

func TestLoadRecognizerFileMissing(t *testing.T) {
	rf, err := LoadRecognizerFile("/nonexistent/file.yaml")
	require.NoError(t, err)
	assert.Nil(t, rf)
}

func TestMergeRecognizers(t *testing.T) {
	base := []RecognizerConfig{{Name: "a", Label: "EMAIL"}, {Name: "b", Label: "PHONE"}}
	override := []RecognizerConfig{{Name: "b", Label: "OTHER"}, {Name: "c", Label: "IBAN"}}

	merged := MergeRecognizers(base, nil, override)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].Name)
	assert.Equal(t, "OTHER", merged[1].Label)
	assert.Equal(t, "c", merged[2].Name)
}

func TestCompileLowercasesContextWords(t *testing.T) {
	compiled, err := compile([]RecognizerConfig{{
		Name:               "x",
		Label:              "OTHER",
		Patterns:           []PatternConfig{{Name: "p", Regex: "x", Score: 0.1}},
		SupportedLanguages: []LanguageContext{{Language: "fr", Context: []string{"RIB"}}},
	}})
	require.NoError(t, err)
	require.Len(t, compiled, 1)
	assert.Equal(t, []string{"rib"}, compiled[0].context["fr"])
}
