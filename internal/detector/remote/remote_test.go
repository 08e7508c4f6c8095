package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/internal/detector"
)

func jsonServer(t *testing.T, path string, handle func(t *testing.T, body map[string]any) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(t, body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPresidio_DetectConvertsCharacterOffsets(t *testing.T) {
	// "é" is two bytes, so character and byte offsets diverge after it.
	text := "Réponse à Jean Dupont"
	srv := jsonServer(t, "/analyze", func(t *testing.T, body map[string]any) any {
		assert.Equal(t, text, body["text"])
		assert.Equal(t, "fr", body["language"])
		return []map[string]any{
			{"entity_type": "PERSON", "start": 10, "end": 21, "score": 0.85},
			{"entity_type": "NRP", "start": 0, "end": 7, "score": 0.3},
		}
	})

	spans, err := NewPresidio(srv.URL).Detect(context.Background(), text, "fr")
	require.NoError(t, err)
	require.Len(t, spans, 2)

	person := spans[0]
	assert.Equal(t, dcp.LabelPerson, person.Label)
	require.NotNil(t, person.Text)
	assert.Equal(t, "Jean Dupont", *person.Text)
	assert.Equal(t, "Jean Dupont", text[person.Start:person.End])
	assert.Equal(t, PresidioName, person.Source)
	assert.Equal(t, "PERSON", person.Metadata["entity_type"])

	assert.Equal(t, dcp.LabelOther, spans[1].Label)
	assert.Equal(t, "Réponse", *spans[1].Text)
}

func TestPresidio_LanguageFallback(t *testing.T) {
	var got string
	srv := jsonServer(t, "/analyze", func(t *testing.T, body map[string]any) any {
		got, _ = body["language"].(string)
		return []map[string]any{}
	})

	_, err := NewPresidio(srv.URL).Detect(context.Background(), "hallo", "de")
	require.NoError(t, err)
	assert.Equal(t, "en", got)

	_, err = NewPresidio(srv.URL, WithLanguages("de", "de")).Detect(context.Background(), "hallo", "de")
	require.NoError(t, err)
	assert.Equal(t, "de", got)
}

func TestPresidio_SkipsOutOfRangeResults(t *testing.T) {
	srv := jsonServer(t, "/analyze", func(*testing.T, map[string]any) any {
		return []map[string]any{{"entity_type": "PERSON", "start": 2, "end": 50, "score": 0.9}}
	})
	spans, err := NewPresidio(srv.URL).Detect(context.Background(), "short", "en")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestPresidio_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no nlp engine", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewPresidio(srv.URL).Detect(context.Background(), "x", "fr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "no nlp engine")
}

func TestPresidioLabel(t *testing.T) {
	assert.Equal(t, dcp.LabelEmail, PresidioLabel("EMAIL_ADDRESS"))
	assert.Equal(t, dcp.LabelIBAN, PresidioLabel("IBAN_CODE"))
	assert.Equal(t, dcp.LabelFinance, PresidioLabel("CREDIT_CARD"))
	assert.Equal(t, dcp.LabelOther, PresidioLabel("CRYPTO"))
}

func TestFactories_RequireURL(t *testing.T) {
	for name, f := range map[string]detector.Factory{
		"presidio": PresidioFactory(""),
		"spacy":    NERFactory(SpacyName, ""),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f(context.Background())
			assert.True(t, errors.Is(err, ErrNotConfigured))
		})
	}

	d, err := PresidioFactory("http://127.0.0.1:1")(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestFactories_RegistryWrapsNotConfigured(t *testing.T) {
	reg := detector.NewRegistry()
	reg.Register(HFName, NERFactory(HFName, ""))

	_, err := reg.Get(context.Background(), HFName)
	var initErr *detector.InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestNER_Detect(t *testing.T) {
	text := "Léa travaille chez Acme à Paris"
	srv := jsonServer(t, "/classify", func(t *testing.T, body map[string]any) any {
		assert.Equal(t, "fr", body["language"])
		return map[string]any{"spans": []map[string]any{
			{"start": 0, "end": 3, "label": "PER", "score": 0.98},
			{"start": 19, "end": 23, "label": "B-ORG"},
			{"start": 26, "end": 31, "label": "LOC", "score": 0.7},
		}}
	})

	spans, err := NewNER(HFName, srv.URL+"/").Detect(context.Background(), text, "fr")
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.Equal(t, dcp.LabelPerson, spans[0].Label)
	assert.Equal(t, "Léa", *spans[0].Text)
	assert.Equal(t, HFName, spans[0].Source)

	assert.Equal(t, dcp.LabelOrg, spans[1].Label)
	assert.Equal(t, 1.0, spans[1].Score)
	assert.Equal(t, "Acme", *spans[1].Text)

	assert.Equal(t, dcp.LabelLocation, spans[2].Label)
	assert.Equal(t, "Paris", *spans[2].Text)
}

func TestNERLabel(t *testing.T) {
	tests := map[string]dcp.Label{
		"PER":    dcp.LabelPerson,
		"i-per":  dcp.LabelPerson,
		"GPE":    dcp.LabelLocation,
		"MISC":   dcp.LabelOther,
		"EMAIL":  dcp.LabelEmail,
		"WIDGET": dcp.LabelOther,
	}
	for tag, want := range tests {
		assert.Equal(t, want, NERLabel(tag), tag)
	}
}

func TestByteRange(t *testing.T) {
	offsets := runeOffsets("aé b")
	assert.Equal(t, []int{0, 1, 3, 4, 5}, offsets)

	s, e, err := byteRange(offsets, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, s)
	assert.Equal(t, 3, e)

	_, _, err = byteRange(offsets, 3, 3)
	assert.Error(t, err)
	_, _, err = byteRange(offsets, 0, 5)
	assert.Error(t, err)
}
