package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/metrics"
	"github.com/stackpod/hutch/pkg/orchestrator"
	"github.com/stackpod/hutch/pkg/types"
)

// Service is the operation surface the HTTP layer exposes. The
// orchestrator implements it; tests substitute a stub.
type Service interface {
	LoadSession(bundle *types.Bundle) (string, error)
	LoadEncryptedSession(blob string) (string, error)
	ListSessions() []orchestrator.SessionInfo

	StartAuth(sessionID string) *types.AuthSession
	PollAuth(authSessionID string) (*types.AuthSession, error)

	SampleFeed(ctx context.Context, sessionID string, count int) (*types.SampleResult, error)
	SampleHistory(ctx context.Context, sessionID string, count int) (*types.SampleResult, error)
	SampleFeedModule(ctx context.Context, sessionID string, req orchestrator.ModuleSampleRequest) (*types.SampleResult, error)
	SampleHistoryModule(ctx context.Context, sessionID string, req orchestrator.ModuleSampleRequest) (*types.SampleResult, error)

	CreateContainer(ctx context.Context, upstream *types.ProxyUpstream) (*types.Container, error)
	DestroyContainer(ctx context.Context, containerID string) error
	ListContainers() ([]*types.Container, types.PoolStats)

	Health() orchestrator.HealthInfo
}

// Server is the public HTTP API server.
type Server struct {
	svc      Service
	router   chi.Router
	http     *http.Server
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewServer creates the API server bound to addr. Start must be called
// to begin serving.
func NewServer(svc Service, addr string) *Server {
	s := &Server{
		svc:      svc,
		router:   chi.NewRouter(),
		validate: validator.New(),
		logger:   log.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("api listening")
	metrics.UpdateComponent("api", true, "listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent("api", false, "shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(instrument)
}

func (s *Server) setupRoutes() {
	s.router.Post("/load-session", s.handleLoadSession)
	s.router.Get("/sessions", s.handleListSessions)

	s.router.Post("/auth/start/{sessionId}", s.handleStartAuth)
	s.router.Get("/auth/poll/{authSessionId}", s.handlePollAuth)

	s.router.Post("/playwright/foryoupage/sample/{sessionId}", s.handleSampleFeed)
	s.router.Post("/playwright/watchhistory/sample/{sessionId}", s.handleSampleHistory)
	s.router.Post("/modules/foryoupage/sample/{sessionId}", s.handleSampleFeedModule)
	s.router.Post("/modules/watchhistory/sample/{sessionId}", s.handleSampleHistoryModule)

	s.router.Post("/containers/create", s.handleCreateContainer)
	s.router.Delete("/containers/{id}", s.handleDestroyContainer)
	s.router.Get("/containers", s.handleListContainers)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Handle("/metrics", metrics.Handler())

	// Routes kept from the previous surface; clients are told where to go.
	s.router.Post("/api/foryoupage/sample/{sessionId}",
		s.handleGone("POST /playwright/foryoupage/sample/{sessionId}"))
	s.router.Get("/auth/qr/{authSessionId}",
		s.handleGone("GET /auth/poll/{authSessionId}"))
}

// quietPaths are polled by infrastructure; logging them at info would
// drown everything else.
var quietPaths = map[string]bool{
	"/metrics": true,
	"/ready":   true,
	"/health":  true,
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		evt := s.logger.Info()
		if quietPaths[r.URL.Path] {
			evt = s.logger.Debug()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
