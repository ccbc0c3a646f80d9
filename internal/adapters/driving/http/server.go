package http

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string

	// Services
	guard      driving.TenantGuard
	queries    driving.QueryService
	cacheAdmin driving.CacheAdmin

	// Infrastructure
	metrics     http.Handler // Prometheus exposition (optional)
	db          Pinger       // PostgreSQL health check
	redisClient Pinger       // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	Version string `koanf:"-"`

	// WriteTimeout bounds a whole response, streamed answers included,
	// so it must exceed the engine's query timeout.
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		Version:      "dev",
		WriteTimeout: 90 * time.Second,
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	guard driving.TenantGuard,
	queries driving.QueryService,
	cacheAdmin driving.CacheAdmin,
	metrics http.Handler, // can be nil
	db Pinger, // can be nil
	redisClient Pinger, // can be nil
) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	s := &Server{
		router:      http.NewServeMux(),
		version:     cfg.Version,
		guard:       guard,
		queries:     queries,
		cacheAdmin:  cacheAdmin,
		metrics:     metrics,
		db:          db,
		redisClient: redisClient,
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	}
	handler = NewLoggingMiddleware().Handler(handler)
	handler = NewRecoveryMiddleware().Handler(handler)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped root handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.guard)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}

	// Query endpoints (authenticated)
	s.router.Handle("POST /api/v1/queries",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleSubmitQuery)))
	s.router.Handle("POST /api/v1/queries/stream",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleStreamQuery)))
	s.router.Handle("POST /api/v1/search",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleSearch)))
	s.router.Handle("GET /api/v1/queries",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListQueries)))
	s.router.Handle("GET /api/v1/queries/{id}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetQuery)))
	s.router.Handle("POST /api/v1/queries/{id}/feedback",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleSubmitFeedback)))

	// Usage and analytics
	s.router.Handle("GET /api/v1/usage",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetUsage)))
	s.router.Handle("GET /api/v1/analytics/summary",
		authMiddleware.Authenticate(
			authMiddleware.RequireAdmin(http.HandlerFunc(s.handleAnalyticsSummary))))

	// Admin endpoints (admin-only)
	s.router.Handle("POST /api/v1/admin/cache/invalidate",
		authMiddleware.Authenticate(
			authMiddleware.RequireAdmin(http.HandlerFunc(s.handleInvalidateCache))))
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
