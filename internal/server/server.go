package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/dcpguard/internal/anonymize"
	"github.com/dativo-io/dcpguard/internal/detector"
	"github.com/dativo-io/dcpguard/internal/jobs"
	"github.com/dativo-io/dcpguard/internal/jobstore"
	"github.com/dativo-io/dcpguard/internal/otel"
	"github.com/dativo-io/dcpguard/internal/scan"
)

const (
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 10 << 20
)

// Defaults fill fields a request leaves out.
type Defaults struct {
	Language  string
	Detectors []string
	MinScore  float64
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	router      *chi.Mux
	runner      *detector.Runner
	anonymizer  *anonymize.Anonymizer
	jobs        *jobs.Service
	scanner     *scan.Scanner
	store       *jobstore.Store
	limiter     *RateLimiter
	defaults    Defaults
	apiKeys     []string
	corsOrigins []string
	version     string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithStore enables lookups of persisted job records.
func WithStore(store *jobstore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithAPIKeys enables API-key authentication.
func WithAPIKeys(keys []string) Option {
	return func(s *Server) { s.apiKeys = keys }
}

// WithRateLimiter enables per-caller rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithDefaults overrides the request defaults.
func WithDefaults(d Defaults) Option {
	return func(s *Server) { s.defaults = d }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer builds a Server. scanner may be nil, which disables scan jobs.
func NewServer(runner *detector.Runner, anonymizer *anonymize.Anonymizer, svc *jobs.Service, scanner *scan.Scanner, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		runner:      runner,
		anonymizer:  anonymizer,
		jobs:        svc,
		scanner:     scanner,
		defaults:    Defaults{Language: "fr", Detectors: []string{"regex", "presidio", "spacy", "hf"}, MinScore: 0.4},
		corsOrigins: []string{"*"},
		version:     "dev",
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the chi router with all middleware and routes.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(RequestIDHeader)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.HTTPMiddleware("/health", "/v1/health"))
	r.Use(CORSMiddleware(s.corsOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Get("/v1/detectors", s.handleDetectorsList)
		r.Post("/v1/detectors/warmup", s.handleDetectorsWarmup)

		r.Post("/v1/detect/text", s.handleDetectText)
		r.Post("/v1/anonymize/text", s.handleAnonymizeText)
		r.Post("/v1/bench/text", s.handleBenchText)
		r.Post("/v1/scan", s.handleScan)

		r.Post("/v1/jobs/bench", s.handleJobBench)
		r.Post("/v1/jobs/scan", s.handleJobScan)
		r.Get("/v1/jobs", s.handleJobsList)
		r.Get("/v1/jobs/{id}", s.handleJobGet)
		r.Get("/v1/jobs/{id}/verify", s.handleJobVerify)
	})

	return r
}
