package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/internal/scan"
)

// Pointer fields distinguish "absent" from the zero value so defaults apply
// only to absent fields.
//
// Span start and end offsets in every response are byte offsets into the
// UTF-8 encoding of the request text, not character (rune) indexes. A
// client working in characters must convert them.

// DetectTextRequest is the body of POST /v1/detect/text.
type DetectTextRequest struct {
	Text          *string  `json:"text"`
	Language      string   `json:"language"`
	Detectors     []string `json:"detectors"`
	MinScore      *float64 `json:"min_score"`
	ReturnText    *bool    `json:"return_text"`
	MergeOverlaps *bool    `json:"merge_overlaps"`
	BestEffort    *bool    `json:"best_effort"`
}

// DetectTextResponse is the body returned by POST /v1/detect/text. Span
// offsets are UTF-8 byte offsets into the request text.
type DetectTextResponse struct {
	Spans      []dcp.Span            `json:"spans"`
	ByDetector map[string][]dcp.Span `json:"by_detector"`
	Summary    dcp.Summary           `json:"summary"`
	Errors     dcp.DetectorErrors    `json:"errors"`
}

// AnonymizeTextRequest is the body of POST /v1/anonymize/text.
type AnonymizeTextRequest struct {
	Text          *string  `json:"text"`
	Language      string   `json:"language"`
	Detectors     []string `json:"detectors"`
	MinScore      *float64 `json:"min_score"`
	MergeOverlaps *bool    `json:"merge_overlaps"`
	Strategy      string   `json:"strategy"`
}

// AnonymizeTextResponse is the body returned by POST /v1/anonymize/text.
// Span offsets refer to the original text as UTF-8 byte offsets, not to the
// anonymized output.
type AnonymizeTextResponse struct {
	AnonymizedText string      `json:"anonymized_text"`
	Spans          []dcp.Span  `json:"spans"`
	Summary        dcp.Summary `json:"summary"`
}

// BenchTextRequest is the body of POST /v1/bench/text and /v1/jobs/bench.
type BenchTextRequest struct {
	Text      *string  `json:"text"`
	Language  string   `json:"language"`
	Detectors []string `json:"detectors"`
	MinScore  *float64 `json:"min_score"`
}

// ScanRequest is the body of POST /v1/scan and /v1/jobs/scan.
type ScanRequest struct {
	Connector string   `json:"connector"`
	Root      string   `json:"root"`
	Recursive *bool    `json:"recursive"`
	Language  string   `json:"language"`
	Detectors []string `json:"detectors"`
	MinScore  *float64 `json:"min_score"`
	Limit     int      `json:"limit"`
}

// WarmupRequest is the optional body of POST /v1/detectors/warmup.
type WarmupRequest struct {
	Detectors []string `json:"detectors"`
}

// JobCreatedResponse is returned when a job is accepted.
type JobCreatedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

var errMissingText = errors.New("text is required")

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (s *Server) language(l string) string {
	if l == "" {
		return s.defaults.Language
	}
	return l
}

func (s *Server) detectors(d []string) []string {
	if d == nil {
		return append([]string(nil), s.defaults.Detectors...)
	}
	return d
}

func (s *Server) minScore(v *float64) (float64, error) {
	if v == nil {
		return s.defaults.MinScore, nil
	}
	if *v < 0 || *v > 1 {
		return 0, fmt.Errorf("min_score must be within [0,1], got %v", *v)
	}
	return *v, nil
}

func (s *Server) scanRequest(req ScanRequest) (scan.Request, error) {
	if req.Root == "" {
		return scan.Request{}, errors.New("root is required")
	}
	score, err := s.minScore(req.MinScore)
	if err != nil {
		return scan.Request{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = scan.DefaultLimit
	}
	return scan.Request{
		Connector: req.Connector,
		Root:      req.Root,
		Recursive: boolOr(req.Recursive, true),
		Language:  s.language(req.Language),
		Detectors: s.detectors(req.Detectors),
		MinScore:  score,
		Limit:     limit,
	}, nil
}
