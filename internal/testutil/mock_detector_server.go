package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// PresidioResult is one entry of a Presidio /analyze response. Offsets are
// in characters.
type PresidioResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// NERSpan is one entry of a NER sidecar /classify response.
type NERSpan struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// DetectorServer is a mock detector sidecar.
type DetectorServer struct {
	*httptest.Server
	calls atomic.Int32
}

// Calls returns how many analysis requests the server answered.
func (s *DetectorServer) Calls() int {
	return int(s.calls.Load())
}

func newDetectorServer(path string, body any) *DetectorServer {
	s := &DetectorServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	return s
}

// NewPresidioServer answers POST /analyze with results for every request.
// Caller must call Close() or register t.Cleanup(server.Close).
func NewPresidioServer(results ...PresidioResult) *DetectorServer {
	if results == nil {
		results = []PresidioResult{}
	}
	return newDetectorServer("/analyze", results)
}

// NewNERServer answers POST /classify with spans for every request.
func NewNERServer(spans ...NERSpan) *DetectorServer {
	if spans == nil {
		spans = []NERSpan{}
	}
	return newDetectorServer("/classify", map[string]any{"spans": spans})
}
