package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/hash/sha256"
	"github.com/JakeFAU/progress-tracker/internal/metrics"
	"github.com/JakeFAU/progress-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/progress-tracker/internal/stream"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

// TrackerService is the domain surface the handlers drive.
type TrackerService interface {
	Create(ctx context.Context, req tracker.CreateRequest) (tracker.Tracker, error)
	Update(ctx context.Context, id string, u tracker.Update) (tracker.Tracker, error)
	Get(ctx context.Context, id string) (tracker.Tracker, error)
	List(ctx context.Context, f tracker.Filter) ([]tracker.Tracker, error)
	Delete(ctx context.Context, id string) error
	CreateBatch(ctx context.Context, req tracker.BatchRequest) (tracker.Batch, error)
	RecomputeBatch(ctx context.Context, id string) (tracker.Batch, error)
	GetBatch(ctx context.Context, id string) (tracker.Batch, error)
	Cleanup(ctx context.Context) (tracker.CleanupResult, error)
	Statistics(ctx context.Context) (tracker.Statistics, error)
}

// Versioner derives an entity tag from a record's identity and revision.
type Versioner interface {
	Version(parts ...string) string
}

// Options carries optional server collaborators.
type Options struct {
	// RequestTimeout bounds every route except the stream.
	RequestTimeout time.Duration
	// Ready reports backend reachability for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
	// Limiter throttles mutating requests per client. Nil disables it.
	Limiter *ratelimit.Limiter
	// Versioner computes ETags for single-record reads. Defaults to SHA-256.
	Versioner Versioner
	// AllowedOrigins enables CORS for browser clients such as EventSource
	// consumers of the stream. Empty disables CORS handling.
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the tracker service and stream sessions.
type Server struct {
	router   chi.Router
	svc      TrackerService
	streams  *stream.Session
	ready    func(ctx context.Context) error
	versions Versioner
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc TrackerService, streams *stream.Session, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	versions := opts.Versioner
	if versions == nil {
		versions = sha256.New()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		svc:      svc,
		streams:  streams,
		ready:    opts.Ready,
		versions: versions,
		logger:   logger,
	}

	r := chi.NewRouter()
	if len(opts.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(opts.AllowedOrigins))
	}
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/progress", func(r chi.Router) {
		r.Use(rateLimitMiddleware(opts.Limiter))

		// Streams outlive any request timeout and need an unwrapped Flusher.
		r.Get("/stream", s.streamProgress)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))

			r.Post("/", s.createTracker)
			r.Get("/", s.listTrackers)
			r.Get("/statistics", s.statistics)
			r.Post("/cleanup", s.cleanup)
			r.Post("/batch", s.createBatch)
			r.Get("/batch/{id}", s.getBatch)
			r.Patch("/batch/{id}", s.recomputeBatch)
			r.Get("/{id}", s.getTracker)
			r.Patch("/{id}", s.updateTracker)
			r.Delete("/{id}", s.deleteTracker)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.requestLogger(r).Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
