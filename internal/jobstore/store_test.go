package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/dcpguard/internal/jobs"
	"github.com/dativo-io/dcpguard/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"), testutil.TestSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ptr(t time.Time) *time.Time { return &t }

func sampleJob(id string, created time.Time) jobs.Job {
	return jobs.Job{
		ID:        id,
		Kind:      "bench_text",
		Status:    jobs.StatusQueued,
		CreatedAt: created,
		Meta: map[string]any{
			"language":  "fr",
			"detectors": []any{"regex", "presidio"},
		},
	}
}

func TestNewStore_RejectsShortKey(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"), "short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating signer")
}

func TestUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	job := sampleJob("j1", created)
	require.NoError(t, store.Upsert(ctx, job))

	job.Status = jobs.StatusRunning
	job.StartedAt = ptr(created.Add(time.Second))
	require.NoError(t, store.Upsert(ctx, job))

	job.Status = jobs.StatusDone
	job.FinishedAt = ptr(created.Add(2 * time.Second))
	job.Result = map[string]any{"regex": map[string]any{"ok": true}}
	require.NoError(t, store.Upsert(ctx, job))

	rec, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDone, rec.Status)
	assert.Equal(t, "fr", rec.Language)
	assert.Equal(t, []string{"regex", "presidio"}, rec.Detectors)
	assert.True(t, rec.CreatedAt.Equal(created))
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, map[string]any{"ok": true}, rec.Payload["regex"])
	assert.Contains(t, rec.Signature, "hmac-sha256:")

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetMissing(t *testing.T) {
	_, err := newTestStore(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, sampleJob("j1", time.Now())))

	ok, err := store.Verify(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.db.ExecContext(ctx,
		`UPDATE job_results SET record_json = replace(record_json, '"fr"', '"en"') WHERE id = ?`, "j1")
	require.NoError(t, err)

	ok, err = store.Verify(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Verify(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, kind := range []string{"bench_text", "scan", "scan"} {
		j := sampleJob(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour))
		j.Kind = kind
		require.NoError(t, store.Upsert(ctx, j))
	}

	scans, err := store.List(ctx, Query{Kind: "scan"})
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, "c", scans[0].ID)
	assert.Equal(t, "b", scans[1].ID)

	recent, err := store.List(ctx, Query{Since: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)

	limited, err := store.List(ctx, Query{Limit: 1, Status: jobs.StatusQueued})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPurgeBeforeKeepsActiveRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return old }

	done := sampleJob("done", old)
	done.Status = jobs.StatusDone
	require.NoError(t, store.Upsert(ctx, done))

	running := sampleJob("running", old)
	running.Status = jobs.StatusRunning
	require.NoError(t, store.Upsert(ctx, running))

	store.now = func() time.Time { return old.Add(48 * time.Hour) }
	fresh := sampleJob("fresh", old)
	fresh.Status = jobs.StatusError
	require.NoError(t, store.Upsert(ctx, fresh))

	n, err := store.PurgeBefore(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "running")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestStoreAsQueuePersister(t *testing.T) {
	store := newTestStore(t)
	q := jobs.NewQueue(jobs.WithPersister(store))

	job := q.Create("anonymize_text", map[string]any{"language": "en"})
	require.NoError(t, q.SetRunning(job.ID))
	require.NoError(t, q.SetError(job.ID, "bad strategy"))

	rec, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, rec.Status)
	assert.Equal(t, "bad strategy", rec.Error)
	assert.Equal(t, "en", rec.Language)
}

func TestSigner(t *testing.T) {
	s, err := NewSigner(testutil.TestSigningKey)
	require.NoError(t, err)

	sig := s.Sign([]byte("payload"))
	assert.True(t, s.Verify([]byte("payload"), sig))
	assert.False(t, s.Verify([]byte("payload2"), sig))
	assert.Len(t, sig, len("hmac-sha256:")+64)
}

func TestFromJobDetectorForms(t *testing.T) {
	j := jobs.Job{ID: "x", Meta: map[string]any{"detectors": "regex,hf"}}
	assert.Equal(t, []string{"regex", "hf"}, FromJob(j, time.Now()).Detectors)

	j.Meta["detectors"] = []string{"spacy"}
	assert.Equal(t, []string{"spacy"}, FromJob(j, time.Now()).Detectors)

	j.Meta = nil
	assert.Nil(t, FromJob(j, time.Now()).Detectors)
}

func TestRecordJob_RestoresJobShape(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	job := sampleJob("j1", created)
	job.Status = jobs.StatusError
	job.StartedAt = ptr(created.Add(time.Second))
	job.FinishedAt = ptr(created.Add(2 * time.Second))
	job.Result = map[string]any{"scanned": float64(3)}
	job.Error = "queue full"
	require.NoError(t, store.Upsert(ctx, job))

	rec, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	got := rec.Job()
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Kind, got.Kind)
	assert.Equal(t, jobs.StatusError, got.Status)
	assert.Equal(t, "queue full", got.Error)
	assert.Equal(t, job.Result, got.Result)
	assert.Equal(t, "fr", got.Meta["language"])
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(*job.StartedAt))
	assert.Equal(t, time.Second, got.Duration())
}
