package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

// Store is the persistence surface the admin API reads and writes.
type Store interface {
	discovery.QueueStore
	discovery.DomainStore
	discovery.RelationshipStore
	Ping(ctx context.Context) error
}

// Reclaimer recovers stale leases.
type Reclaimer interface {
	ReclaimStale(ctx context.Context) (int64, error)
	Preview(ctx context.Context, limit int) ([]discovery.QueueItem, error)
}

// Options tunes handler defaults and middleware.
type Options struct {
	SeedPriority     int
	MaxRetryAttempts int
	RequestTimeout   time.Duration
	// APIKey enables key checking on /v1 routes when non-empty.
	APIKey string
}

// Server wires HTTP handlers to the queue store.
type Server struct {
	router    chi.Router
	store     Store
	reclaimer Reclaimer
	clock     discovery.Clock
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store Store,
	reclaimer Reclaimer,
	clock discovery.Clock,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	metrics.Init()
	s := &Server{
		store:     store,
		reclaimer: reclaimer,
		clock:     clock,
		opts:      opts,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/seeds", s.seed)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", s.queueStats)
			r.Post("/reclaim", s.reclaim)
			r.Post("/retry", s.retry)
		})
		r.Get("/domains/{name}", s.domain)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
