package resolve

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/dcpguard/internal/dcp"
)

func sp(start, end int, label dcp.Label, score float64, source string) dcp.Span {
	return dcp.Span{Start: start, End: end, Label: label, Score: score, Source: source}
}

func withText(s dcp.Span, text string) dcp.Span {
	s.Text = dcp.StringPtr(text)
	return s
}

func assertNoOverlap(t *testing.T, spans []dcp.Span) {
	t.Helper()
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			assert.False(t, spans[i].Overlaps(spans[j]), "spans %v and %v overlap", spans[i], spans[j])
		}
	}
}

func TestDefaultPriorities(t *testing.T) {
	p := MustDefaultPriorities()
	assert.Equal(t, 30, p.Label(dcp.LabelIBAN))
	assert.Equal(t, 30, p.Label(dcp.LabelEmail))
	assert.Equal(t, 15, p.Label(dcp.LabelPerson))
	assert.Equal(t, 0, p.Label(dcp.LabelOther))
	assert.Equal(t, 1, p.Label("UNKNOWN"))
	assert.Equal(t, 30, p.Detector("regex"))
	assert.Equal(t, 18, p.Detector("hf"))
	assert.Equal(t, 12, p.Detector("spacy"))
	assert.Equal(t, 10, p.Detector("presidio"))
	assert.Equal(t, 1, p.Detector("piiranha"))
}

func TestLoadPriorities_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("labels:\n  PERSON: 40\ndetectors:\n  gliner: 22\n"), 0o600))

	p, err := LoadPriorities(path)
	require.NoError(t, err)
	assert.Equal(t, 40, p.Label(dcp.LabelPerson))
	assert.Equal(t, 30, p.Label(dcp.LabelIBAN), "untouched defaults survive")
	assert.Equal(t, 22, p.Detector("gliner"))
	assert.Equal(t, []string{"presidio"}, p.FalsePositiveSources)
}

func TestLoadPriorities_MissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPriorities(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30, p.Label(dcp.LabelIBAN))
}

func TestParsePriorities_RejectsUnknownLabel(t *testing.T) {
	_, err := ParsePriorities([]byte("labels:\n  SECRET: 5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECRET")
}

func TestBetter(t *testing.T) {
	r := New(nil)
	tests := []struct {
		name string
		a, b dcp.Span
		want dcp.Span
	}{
		{
			name: "label priority beats score",
			a:    sp(0, 10, dcp.LabelIBAN, 0.5, "presidio"),
			b:    sp(0, 10, dcp.LabelPerson, 0.99, "regex"),
			want: sp(0, 10, dcp.LabelIBAN, 0.5, "presidio"),
		},
		{
			name: "detector priority on equal labels",
			a:    sp(0, 4, dcp.LabelPerson, 0.99, "presidio"),
			b:    sp(0, 4, dcp.LabelPerson, 0.70, "hf"),
			want: sp(0, 4, dcp.LabelPerson, 0.70, "hf"),
		},
		{
			name: "score on equal label and detector",
			a:    sp(0, 4, dcp.LabelPerson, 0.6, "hf"),
			b:    sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
			want: sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
		},
		{
			name: "longer span on full tie",
			a:    sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
			b:    sp(0, 9, dcp.LabelPerson, 0.8, "hf"),
			want: sp(0, 9, dcp.LabelPerson, 0.8, "hf"),
		},
		{
			name: "equal length keeps first",
			a:    sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
			b:    sp(2, 6, dcp.LabelPerson, 0.8, "hf"),
			want: sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
		},
		{
			name: "unknown source loses to known",
			a:    sp(0, 4, dcp.LabelOrg, 0.9, "mystery"),
			b:    sp(0, 4, dcp.LabelOrg, 0.5, "spacy"),
			want: sp(0, 4, dcp.LabelOrg, 0.5, "spacy"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Better(tt.a, tt.b))
		})
	}
}

func TestPriorityCorrectness_IBANOverOther(t *testing.T) {
	r := New(nil)
	in := []dcp.Span{
		sp(0, 10, dcp.LabelIBAN, 0.9, "presidio"),
		sp(2, 6, dcp.LabelOther, 0.95, "presidio"),
	}

	suppressed := r.SuppressFalsePositives(in)
	require.Len(t, suppressed, 1, "known false positive removed before merging")
	assert.Equal(t, dcp.LabelIBAN, suppressed[0].Label)

	res := r.Resolve(context.Background(), in, DefaultOptions())
	require.Len(t, res.Spans, 1)
	assert.Equal(t, sp(0, 10, dcp.LabelIBAN, 0.9, "presidio"), res.Spans[0])
	assert.Equal(t, dcp.Summary{dcp.LabelIBAN: 1}, res.Summary)
}

func TestSuppressFalsePositives_OnlyConfiguredSource(t *testing.T) {
	r := New(nil)
	in := []dcp.Span{
		sp(0, 10, dcp.LabelIBAN, 0.9, "regex"),
		sp(2, 6, dcp.LabelOther, 0.95, "spacy"),
		sp(0, 10, dcp.LabelOther, 0.95, "presidio"),
		sp(20, 24, dcp.LabelOther, 0.95, "presidio"),
	}
	out := r.SuppressFalsePositives(in)
	assert.Equal(t, []dcp.Span{
		sp(0, 10, dcp.LabelIBAN, 0.9, "regex"),
		sp(2, 6, dcp.LabelOther, 0.95, "spacy"),
		sp(0, 10, dcp.LabelOther, 0.95, "presidio"), // same length as the IBAN, not strictly shorter
		sp(20, 24, dcp.LabelOther, 0.95, "presidio"),
	}, out)
}

func TestMergeOverlaps_TouchingSpansCollapse(t *testing.T) {
	r := New(nil)
	out := r.MergeOverlaps([]dcp.Span{
		sp(0, 5, dcp.LabelEmail, 0.9, "regex"),
		sp(5, 9, dcp.LabelDate, 0.9, "regex"),
	})
	require.Len(t, out, 1)
	assert.Equal(t, dcp.LabelEmail, out[0].Label)
}

func TestMergeOverlaps_SeparateSpansKept(t *testing.T) {
	r := New(nil)
	out := r.MergeOverlaps([]dcp.Span{
		sp(10, 15, dcp.LabelPhone, 0.9, "regex"),
		sp(0, 5, dcp.LabelEmail, 0.9, "regex"),
	})
	assert.Equal(t, []dcp.Span{
		sp(0, 5, dcp.LabelEmail, 0.9, "regex"),
		sp(10, 15, dcp.LabelPhone, 0.9, "regex"),
	}, out)
}

func TestMergeAdjacentPersons(t *testing.T) {
	r := New(nil)

	t.Run("gap of one merges", func(t *testing.T) {
		out := r.MergeAdjacentPersons([]dcp.Span{
			withText(sp(0, 4, dcp.LabelPerson, 0.8, "spacy"), "Jean"),
			withText(sp(5, 11, dcp.LabelPerson, 0.9, "hf"), "Dupont"),
		}, DefaultMaxGap)
		require.Len(t, out, 1)
		got := out[0]
		assert.Equal(t, 0, got.Start)
		assert.Equal(t, 11, got.End)
		assert.Equal(t, dcp.LabelPerson, got.Label)
		assert.Equal(t, 0.9, got.Score)
		assert.Equal(t, "hf", got.Source, "higher detector priority wins")
		require.NotNil(t, got.Text)
		assert.Equal(t, "JeanDupont", *got.Text)
		assert.Equal(t, "adjacent_persons", got.Metadata[MergedMetadataKey])
	})

	t.Run("gap of two does not merge", func(t *testing.T) {
		out := r.MergeAdjacentPersons([]dcp.Span{
			sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
			sp(6, 10, dcp.LabelPerson, 0.8, "hf"),
		}, DefaultMaxGap)
		assert.Len(t, out, 2)
	})

	t.Run("nil text propagates", func(t *testing.T) {
		out := r.MergeAdjacentPersons([]dcp.Span{
			withText(sp(0, 4, dcp.LabelPerson, 0.8, "hf"), "Jean"),
			sp(5, 9, dcp.LabelPerson, 0.8, "hf"),
		}, DefaultMaxGap)
		require.Len(t, out, 1)
		assert.Nil(t, out[0].Text)
	})

	t.Run("source tie favors earlier span", func(t *testing.T) {
		out := r.MergeAdjacentPersons([]dcp.Span{
			sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
			sp(5, 9, dcp.LabelPerson, 0.8, "other-hf"),
		}, DefaultMaxGap)
		require.Len(t, out, 1)
		assert.Equal(t, "hf", out[0].Source)
	})

	t.Run("metadata union later wins", func(t *testing.T) {
		a := sp(0, 4, dcp.LabelPerson, 0.8, "hf")
		a.Metadata = map[string]any{"entity_type": "B-PER", "model": "camembert"}
		b := sp(5, 9, dcp.LabelPerson, 0.8, "hf")
		b.Metadata = map[string]any{"entity_type": "I-PER"}
		out := r.MergeAdjacentPersons([]dcp.Span{a, b}, DefaultMaxGap)
		require.Len(t, out, 1)
		assert.Equal(t, "I-PER", out[0].Metadata["entity_type"])
		assert.Equal(t, "camembert", out[0].Metadata["model"])
		assert.Equal(t, "B-PER", a.Metadata["entity_type"], "inputs are not mutated")
	})

	t.Run("non person neighbors untouched", func(t *testing.T) {
		out := r.MergeAdjacentPersons([]dcp.Span{
			sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
			sp(5, 9, dcp.LabelOrg, 0.8, "hf"),
		}, DefaultMaxGap)
		assert.Len(t, out, 2)
	})
}

func TestFinalize_ScoreFilter(t *testing.T) {
	r := New(nil)
	out := r.Finalize([]dcp.Span{
		sp(0, 4, dcp.LabelEmail, 0.3, "regex"),
		sp(10, 14, dcp.LabelEmail, 0.5, "regex"),
	}, Options{MinScore: 0.4, Merge: true, MergePersons: true, MaxGap: 1})
	require.Len(t, out, 1)
	assert.Equal(t, 10, out[0].Start)
}

func TestFinalize_DoesNotMutateInput(t *testing.T) {
	r := New(nil)
	in := []dcp.Span{
		sp(5, 9, dcp.LabelPerson, 0.8, "hf"),
		sp(0, 4, dcp.LabelPerson, 0.8, "hf"),
	}
	_ = r.Finalize(in, DefaultOptions())
	assert.Equal(t, 5, in[0].Start)
	assert.Equal(t, 0, in[1].Start)
	assert.Nil(t, in[0].Metadata)
}

func randomSpans(rng *rand.Rand, n int) []dcp.Span {
	sources := []string{"regex", "hf", "spacy", "presidio", "custom"}
	labels := dcp.Labels
	out := make([]dcp.Span, n)
	for i := range out {
		start := rng.Intn(200)
		length := 1 + rng.Intn(20)
		out[i] = dcp.Span{
			Start:  start,
			End:    start + length,
			Label:  labels[rng.Intn(len(labels))],
			Score:  float64(rng.Intn(100)) / 100,
			Source: sources[rng.Intn(len(sources))],
		}
	}
	return out
}

func TestResolve_Properties(t *testing.T) {
	r := New(nil)
	rng := rand.New(rand.NewSource(42))
	opts := DefaultOptions()

	for i := 0; i < 200; i++ {
		in := randomSpans(rng, 1+rng.Intn(40))

		first := r.Finalize(in, opts)
		assertNoOverlap(t, first)

		again := r.Finalize(first, opts)
		assert.Equal(t, first, again, "resolver must be idempotent")

		shuffled := append([]dcp.Span(nil), in...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, stripMeta(first), stripMeta(r.Finalize(shuffled, opts)), "resolver must not depend on input order")
	}
}

// stripMeta drops merge metadata so determinism comparisons ignore map identity.
func stripMeta(spans []dcp.Span) []dcp.Span {
	out := make([]dcp.Span, len(spans))
	for i, s := range spans {
		s.Metadata = nil
		out[i] = s
	}
	return out
}

func TestResolve_EmptyInput(t *testing.T) {
	res := New(nil).Resolve(context.Background(), nil, DefaultOptions())
	assert.Empty(t, res.Spans)
	assert.Empty(t, res.Summary)
}
