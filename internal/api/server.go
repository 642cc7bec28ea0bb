// Package api exposes the relay, the echo room and the REST surface over
// one chi router.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusrelay/internal/alert"
	"campusrelay/internal/safety"
	"campusrelay/internal/websocket"
	"campusrelay/pkg/types"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(token string) (types.Identity, error)
}

// Limiter admits or rejects one request for a key.
type Limiter interface {
	Allow(key string) bool
}

// EchoRoom serves one client of the open echo room.
type EchoRoom interface {
	ServeClient(w http.ResponseWriter, r *http.Request, clientID string)
}

// Screener is the classifier surface used by the NLP endpoints.
type Screener interface {
	DangerMatch(text string) (safety.Match, bool)
	MisconductMatch(text string) (safety.Match, bool)
}

// MessageLog records and lists persisted message references.
type MessageLog interface {
	Record(ctx context.Context, messageID, sender, recipient, bodyRef string) (types.PersistedMessage, error)
	History(ctx context.Context, a, b string, limit int) ([]*types.PersistedMessage, error)
}

// HealthChecker checks the backing store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource reports live connection counts.
type StatsSource interface {
	Stats() websocket.RegistryStats
}

// Metrics counts requests refused by the rate gate.
type Metrics interface {
	IncrementRateLimited(surface string)
}

// Deps are the collaborators served by the HTTP surface. Any handler whose
// collaborator is nil is not mounted.
type Deps struct {
	Relay      http.Handler
	Echo       EchoRoom
	Auth       Authenticator
	Limiter    Limiter
	Screener   Screener
	Alerter    alert.Alerter
	Messages   MessageLog
	Health     HealthChecker
	Registries []StatsSource
	Gatherer   prometheus.Gatherer
	Metrics    Metrics
	Logger     *slog.Logger
}

// Server is the HTTP entry point.
type Server struct {
	deps   Deps
	logger *slog.Logger
	router chi.Router
	now    func() time.Time
}

// NewServer builds the route table.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		logger: logger.With("component", "api"),
		router: chi.NewRouter(),
		now:    time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if s.deps.Relay != nil {
		r.Handle("/ws", s.deps.Relay)
	}
	if s.deps.Echo != nil {
		r.Get("/ws/test/{clientID}", func(w http.ResponseWriter, r *http.Request) {
			s.deps.Echo.ServeClient(w, r, chi.URLParam(r, "clientID"))
		})
	}
	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(contentTypeJSON)
		r.Use(middleware.Timeout(30 * time.Second))

		if s.deps.Screener != nil {
			r.Post("/nlp/detect-emergency", s.handleDetectEmergency)
			r.Post("/nlp/detect-counselor-misconduct", s.handleDetectMisconduct)
		}

		if s.deps.Messages != nil && s.deps.Auth != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Use(s.rateLimit)
				r.Use(requirePaid)
				r.Post("/messages/persistent", s.handleSendPersistent)
				r.Get("/conversations/{peerID}/messages", s.handleListConversation)
			})
		}
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string                    `json:"status"`
	Timestamp  time.Time                 `json:"timestamp"`
	Database   string                    `json:"database"`
	Registries []websocket.RegistryStats `json:"registries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  s.now().UTC(),
		Database:   "healthy",
		Registries: make([]websocket.RegistryStats, 0, len(s.deps.Registries)),
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			s.logger.ErrorContext(ctx, "health check failed", "error", err)
			resp.Status = "unhealthy"
			resp.Database = "unavailable"
		}
	}
	for _, src := range s.deps.Registries {
		resp.Registries = append(resp.Registries, src.Stats())
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
