// Package jobstore persists job records in SQLite.
//
// Each record is stored as a JSON document next to an HMAC-SHA256 signature
// of that document, so an exported or copied database can be checked for
// tampering. The store implements jobs.Persister.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/dcpguard/internal/jobs"
	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/jobstore")

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("job record not found")

// Record is the persisted form of a job.
type Record struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Status     jobs.Status    `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Language   string         `json:"language,omitempty"`
	Detectors  []string       `json:"detectors,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      string         `json:"error,omitempty"`
	Signature  string         `json:"-"`
}

// FromJob builds the record for a job snapshot. Language and detectors are
// lifted from the job metadata for filtering.
func FromJob(j jobs.Job, updatedAt time.Time) Record {
	r := Record{
		ID:         j.ID,
		Kind:       j.Kind,
		Status:     j.Status,
		CreatedAt:  j.CreatedAt.UTC(),
		UpdatedAt:  updatedAt.UTC(),
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Meta:       j.Meta,
		Payload:    j.Result,
		Error:      j.Error,
	}
	if lang, ok := j.Meta["language"].(string); ok {
		r.Language = lang
	}
	r.Detectors = stringList(j.Meta["detectors"])
	return r
}

// Job converts the record back into the job shape served for live jobs, so
// pollers see the same fields before and after a job leaves memory.
func (r Record) Job() jobs.Job {
	return jobs.Job{
		ID:         r.ID,
		Kind:       r.Kind,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Result:     r.Payload,
		Error:      r.Error,
		Meta:       r.Meta,
	}
}

func stringList(v any) []string {
	switch d := v.(type) {
	case []string:
		return d
	case []any:
		out := make([]string, 0, len(d))
		for _, x := range d {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		if d == "" {
			return nil
		}
		return strings.Split(d, ",")
	}
	return nil
}

// Store persists signed job records.
type Store struct {
	db     *sql.DB
	signer *Signer
	now    func() time.Time
}

// NewStore opens (creating if needed) the SQLite database at dbPath.
func NewStore(dbPath, signingKey string) (*Store, error) {
	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS job_results (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		language TEXT,
		detectors TEXT,
		record_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS ix_job_results_kind_created_at ON job_results(kind, created_at);
	CREATE INDEX IF NOT EXISTS ix_job_results_updated_at ON job_results(updated_at);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job schema: %w", err)
	}

	return &Store{db: db, signer: signer, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert stores the current state of a job, replacing any earlier state.
// The creation time of an existing record is kept.
func (s *Store) Upsert(ctx context.Context, j jobs.Job) error {
	ctx, span := tracer.Start(ctx, "jobstore.upsert",
		trace.WithAttributes(dcpotel.JobAttributes(j.ID, j.Kind, string(j.Status))...))
	defer span.End()

	return s.Put(ctx, FromJob(j, s.now()))
}

// Put signs and stores r.
func (s *Store) Put(ctx context.Context, r Record) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling job record: %w", err)
	}
	sig := s.signer.Sign(doc)

	query := `INSERT INTO job_results (id, kind, status, created_at, updated_at, language, detectors, record_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            status = excluded.status,
	            updated_at = excluded.updated_at,
	            language = excluded.language,
	            detectors = excluded.detectors,
	            record_json = excluded.record_json,
	            signature = excluded.signature`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Kind, string(r.Status), r.CreatedAt, r.UpdatedAt,
		r.Language, strings.Join(r.Detectors, ","), string(doc), sig,
	)
	if err != nil {
		return fmt.Errorf("storing job record %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "jobstore.get", trace.WithAttributes(dcpotel.JobID.String(id)))
	defer span.End()

	var doc, sig string
	err := s.db.QueryRowContext(ctx, `SELECT record_json, signature FROM job_results WHERE id = ?`, id).Scan(&doc, &sig)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying job record: %w", err)
	}
	return decode(doc, sig)
}

func decode(doc, sig string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("unmarshaling job record: %w", err)
	}
	r.Signature = sig
	return &r, nil
}

// Query filters List. Zero fields match everything.
type Query struct {
	Kind   string
	Status jobs.Status
	Since  time.Time
	Limit  int
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "jobstore.list",
		trace.WithAttributes(attribute.String("dcp.job.kind", q.Kind)))
	defer span.End()

	query := `SELECT record_json, signature FROM job_results WHERE 1=1`
	var args []interface{}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, q.Kind)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.Since.UTC())
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying job records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var doc, sig string
		if err := rows.Scan(&doc, &sig); err != nil {
			return nil, fmt.Errorf("scanning job record: %w", err)
		}
		r, err := decode(doc, sig)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Verify reports whether the stored document of id still matches its
// signature.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	var doc, sig string
	err := s.db.QueryRowContext(ctx, `SELECT record_json, signature FROM job_results WHERE id = ?`, id).Scan(&doc, &sig)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("querying job record: %w", err)
	}
	return s.signer.Verify([]byte(doc), sig), nil
}

// PurgeBefore deletes terminal records last updated before cutoff and
// returns how many were removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "jobstore.purge")
	defer span.End()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_results WHERE status IN (?, ?) AND updated_at < ?`,
		string(jobs.StatusDone), string(jobs.StatusError), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging job records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging job records: %w", err)
	}
	span.SetAttributes(attribute.Int64("dcp.job.purged", n))
	return n, nil
}
