package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is a named dependency probed by /ready
type Check struct {
	Name   string
	Pinger Pinger
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	router          *http.ServeMux
	version         string
	logger          *slog.Logger
	shutdownTimeout time.Duration
	keepAlive       time.Duration

	// Services
	topics     driving.TopicService
	outlines   driving.OutlineService
	paragraphs driving.ParagraphService
	progress   driving.ProgressService
	resumption driving.ResumptionService
	cache      driving.CacheService

	// Infrastructure
	events  driven.EventSubscriber
	tokens  driven.TokenVerifier
	runtime *domain.RuntimeConfig // Optional
	checks  []Check
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	Version         string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// KeepAlive is the comment interval on idle event streams (default: 15s)
	KeepAlive time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ShutdownTimeout: 30 * time.Second,
		KeepAlive:       15 * time.Second,
	}
}

// Services are the core services and ports the server drives
type Services struct {
	Topics     driving.TopicService
	Outlines   driving.OutlineService
	Paragraphs driving.ParagraphService
	Progress   driving.ProgressService
	Resumption driving.ResumptionService
	Cache      driving.CacheService

	Events  driven.EventSubscriber
	Tokens  driven.TokenVerifier
	Runtime *domain.RuntimeConfig
	Checks  []Check
	Logger  *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services) *Server {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}

	s := &Server{
		router:          http.NewServeMux(),
		version:         cfg.Version,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		keepAlive:       cfg.KeepAlive,
		topics:          svc.Topics,
		outlines:        svc.Outlines,
		paragraphs:      svc.Paragraphs,
		progress:        svc.Progress,
		resumption:      svc.Resumption,
		cache:           svc.Cache,
		events:          svc.Events,
		tokens:          svc.Tokens,
		runtime:         svc.Runtime,
		checks:          svc.Checks,
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	}
	handler = NewLoggingMiddleware(logger).Handler(handler)
	handler = NewTracingMiddleware().Handler(handler)
	handler = NewRecoveryMiddleware(logger).Handler(handler)

	// No WriteTimeout: event streams stay open. Handlers that stream clear
	// their own deadline and everything else finishes well within IdleTimeout.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	auth := NewAuthMiddleware(s.tokens)
	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(h)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Topics
	s.router.Handle("POST /api/v1/topics", authed(s.handleCreateTopic))
	s.router.Handle("GET /api/v1/topics", authed(s.handleListTopics))
	s.router.Handle("GET /api/v1/topics/{id}", authed(s.handleGetTopic))
	s.router.Handle("DELETE /api/v1/topics/{id}", authed(s.handleDeleteTopic))

	// Outline
	s.router.Handle("GET /api/v1/topics/{id}/outline", authed(s.handleGetOutline))
	s.router.Handle("POST /api/v1/topics/{id}/outline", authed(s.handleEnsureOutline))
	s.router.Handle("POST /api/v1/topics/{id}/outline/regenerate", authed(s.handleRegenerateOutline))

	// Paragraphs
	s.router.Handle("POST /api/v1/topics/{id}/paragraphs/{pid}/generate", authed(s.handleGenerateParagraph))
	s.router.Handle("PUT /api/v1/topics/{id}/paragraphs/{pid}/read", authed(s.handleMarkRead))
	s.router.Handle("DELETE /api/v1/topics/{id}/paragraphs/{pid}/read", authed(s.handleMarkUnread))
	s.router.Handle("POST /api/v1/topics/{id}/paragraphs/{pid}/session", authed(s.handleStartReading))
	s.router.Handle("DELETE /api/v1/reading-session", authed(s.handleStopReading))

	// Progress and cache
	s.router.Handle("GET /api/v1/topics/{id}/progress", authed(s.handleChapterProgress))
	s.router.Handle("GET /api/v1/topics/{id}/resumption", authed(s.handleResumption))
	s.router.Handle("GET /api/v1/topics/{id}/cache/staleness", authed(s.handleStaleness))

	// Events
	s.router.Handle("GET /api/v1/events", authed(s.handleEvents))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
