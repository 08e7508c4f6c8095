package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/dcpguard/internal/anonymize"
	"github.com/dativo-io/dcpguard/internal/connector"
	"github.com/dativo-io/dcpguard/internal/detector"
	"github.com/dativo-io/dcpguard/internal/jobs"
	"github.com/dativo-io/dcpguard/internal/jobstore"
	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
	"github.com/dativo-io/dcpguard/internal/requestctx"
	"github.com/dativo-io/dcpguard/internal/scan"
)

// Job kinds.
const (
	KindBenchText = "bench_text"
	KindScan      = "scan"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]any{
			"detectors_loaded": s.runner.Registry().ListLoaded(),
			"job_store":        "disabled",
			"scan":             "disabled",
		}
		if s.store != nil {
			components["job_store"] = "ok"
		}
		if s.scanner != nil {
			components["scan"] = "ok"
		}
		counts := s.jobs.Queue.Counts()
		jobCounts := make(map[string]int, len(counts))
		for st, n := range counts {
			jobCounts[string(st)] = n
		}
		components["jobs"] = jobCounts
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetectorsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available": s.runner.Registry().ListAvailable(),
		"loaded":    s.runner.Registry().ListLoaded(),
	})
}

func (s *Server) handleDetectorsWarmup(w http.ResponseWriter, r *http.Request) {
	var req WarmupRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	status := s.runner.Registry().Warmup(r.Context(), req.Detectors)
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *Server) handleDetectText(w http.ResponseWriter, r *http.Request) {
	var req DetectTextRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "bad_request", errMissingText.Error())
		return
	}
	minScore, err := s.minScore(req.MinScore)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := s.runner.Detect(r.Context(), detector.DetectRequest{
		Text:          *req.Text,
		Language:      s.language(req.Language),
		Detectors:     s.detectors(req.Detectors),
		MinScore:      minScore,
		MergeOverlaps: boolOr(req.MergeOverlaps, true),
		KeepText:      boolOr(req.ReturnText, true),
		BestEffort:    boolOr(req.BestEffort, true),
	})
	if err != nil {
		writeDetectError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DetectTextResponse{
		Spans:      res.Spans,
		ByDetector: res.ByDetector,
		Summary:    res.Summary,
		Errors:     res.Errors,
	})
}

func (s *Server) handleAnonymizeText(w http.ResponseWriter, r *http.Request) {
	var req AnonymizeTextRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "bad_request", errMissingText.Error())
		return
	}
	strategy, err := anonymize.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_input", err.Error())
		return
	}
	minScore, err := s.minScore(req.MinScore)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := s.runner.Detect(r.Context(), detector.DetectRequest{
		Text:          *req.Text,
		Language:      s.language(req.Language),
		Detectors:     s.detectors(req.Detectors),
		MinScore:      minScore,
		MergeOverlaps: boolOr(req.MergeOverlaps, true),
		KeepText:      true,
		BestEffort:    true,
	})
	if err != nil {
		writeDetectError(w, r, err)
		return
	}
	out, err := s.anonymizer.Anonymize(*req.Text, res.Spans, strategy)
	if err != nil {
		// Without merging, detectors may disagree on overlapping spans.
		writeError(w, http.StatusBadRequest, "unsupported_input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AnonymizeTextResponse{
		AnonymizedText: out,
		Spans:          res.Spans,
		Summary:        res.Summary,
	})
}

func (s *Server) benchRequest(w http.ResponseWriter, r *http.Request) (detector.BenchRequest, bool) {
	var req BenchTextRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return detector.BenchRequest{}, false
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "bad_request", errMissingText.Error())
		return detector.BenchRequest{}, false
	}
	minScore, err := s.minScore(req.MinScore)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return detector.BenchRequest{}, false
	}
	return detector.BenchRequest{
		Text:      *req.Text,
		Language:  s.language(req.Language),
		Detectors: s.detectors(req.Detectors),
		MinScore:  minScore,
	}, true
}

func (s *Server) handleBenchText(w http.ResponseWriter, r *http.Request) {
	req, ok := s.benchRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Bench(r.Context(), req))
}

func (s *Server) handleJobBench(w http.ResponseWriter, r *http.Request) {
	req, ok := s.benchRequest(w, r)
	if !ok {
		return
	}
	meta := map[string]any{
		"detectors": req.Detectors,
		"language":  req.Language,
		"caller":    requestctx.CallerID(r.Context()),
	}
	s.enqueue(w, r, KindBenchText, meta, func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"report": s.runner.Bench(ctx, req)}, nil
	})
}

// decodeScan reads and validates a scan body. On failure it has already
// written the error response.
func (s *Server) decodeScan(w http.ResponseWriter, r *http.Request) (scan.Request, bool) {
	if s.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scan_disabled", "no connector is configured")
		return scan.Request{}, false
	}
	var body ScanRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return scan.Request{}, false
	}
	req, err := s.scanRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return scan.Request{}, false
	}
	if err := s.scanner.Validate(req); err != nil {
		code := "bad_request"
		if errors.Is(err, detector.ErrUnknownCapability) {
			code = "unknown_detector"
		}
		writeError(w, http.StatusBadRequest, code, err.Error())
		return scan.Request{}, false
	}
	return req, true
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScan(w, r)
	if !ok {
		return
	}
	report, err := s.scanner.Scan(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "scan_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleJobScan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScan(w, r)
	if !ok {
		return
	}
	meta := map[string]any{
		"root":      req.Root,
		"connector": connector.NameForScheme(connector.Scheme(req.Root)),
		"detectors": req.Detectors,
		"language":  req.Language,
		"caller":    requestctx.CallerID(r.Context()),
	}
	s.enqueue(w, r, KindScan, meta, func(ctx context.Context) (map[string]any, error) {
		report, err := s.scanner.Scan(ctx, req)
		if err != nil {
			return nil, err
		}
		return report.Map(), nil
	})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, kind string, meta map[string]any, fn jobs.WorkFunc) {
	job, err := s.jobs.Enqueue(kind, meta, fn)
	if err != nil {
		logger := dcpotel.Logger(r.Context())
		logger.Warn().Err(err).Str("job_id", job.ID).Str("kind", kind).Msg("job_rejected")
		writeError(w, http.StatusServiceUnavailable, "queue_full", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, JobCreatedResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleJobsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jobs.Filter{Kind: q.Get("kind")}
	if st := q.Get("status"); st != "" {
		status, err := jobs.ParseStatus(st)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		filter.Status = status
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	list := s.jobs.Queue.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

// handleJobGet serves the live job, falling back to the persisted record for
// jobs pruned from memory or run by a previous process.
func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := s.jobs.Queue.Get(id); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}
	if s.store != nil {
		rec, err := s.store.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, rec.Job())
			return
		}
		if !errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}
	writeError(w, http.StatusNotFound, "job_not_found", "job not found: "+id)
}

func (s *Server) handleJobVerify(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "job_store_disabled", "job records are not persisted")
		return
	}
	id := chi.URLParam(r, "id")
	valid, err := s.store.Verify(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job_not_found", "job not found: "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "valid": valid})
}

// writeDetectError maps ensemble failures to HTTP errors.
func writeDetectError(w http.ResponseWriter, r *http.Request, err error) {
	var initErr *detector.InitializationError
	var detErr *detector.DetectionError
	switch {
	case errors.Is(err, detector.ErrUnknownCapability):
		writeError(w, http.StatusBadRequest, "unknown_detector", err.Error())
	case errors.As(err, &initErr):
		writeError(w, http.StatusBadGateway, "detector_unavailable", err.Error())
	case errors.As(err, &detErr):
		writeError(w, http.StatusBadGateway, "detector_failed", err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request_failed")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
