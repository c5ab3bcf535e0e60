package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/warelay/internal/delivery"
	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/state"
	"github.com/mattjoyce/warelay/internal/upstream"
)

// Store defines the state store operations the admin API uses.
type Store interface {
	Settings() state.Settings
	UpdateSettings(ctx context.Context, upd state.SettingsUpdate) (state.Settings, error)
	Logs(limit int) []state.LogEntry
	MediaLogs(limit int) []state.LogEntry
	Stats() state.Stats
	Clear(ctx context.Context) error
	LogCap() int
}

// Forwarder sends payloads through the delivery engine.
type Forwarder interface {
	Forward(ctx context.Context, payload []byte, settings state.Settings) []delivery.Outcome
}

// MediaFetcher opens media hosted by the automation backend.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, path string) (*upstream.Media, error)
}

// Registrar mounts extra routes (the webhook ingress) outside the admin group.
type Registrar interface {
	Register(r chi.Router)
}

// Config holds API server configuration
type Config struct {
	Listen         string
	Username       string
	Password       string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server serves the ingress route, the admin API and health.
type Server struct {
	config    Config
	store     Store
	forwarder Forwarder
	media     MediaFetcher
	events    *events.Hub
	mounts    []Registrar
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, store Store, forwarder Forwarder, media MediaFetcher, hub *events.Hub, logger *slog.Logger) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Minute
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		store:     store,
		forwarder: forwarder,
		media:     media,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Mount adds routes served without admin authentication. Call before Start.
func (s *Server) Mount(r Registrar) {
	s.mounts = append(s.mounts, r)
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}).Handler)

	// Unauthenticated.
	r.Get("/healthz", s.handleHealthz)
	for _, m := range s.mounts {
		m.Register(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.basicAuthMiddleware)

		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleUpdateConfig)
		r.Get("/stats", s.handleStats)
		r.Get("/logs", s.handleLogs)
		r.Delete("/logs", s.handleClearLogs)
		r.Get("/test", s.handleTest)
		r.Post("/test", s.handleTest)
		r.Get("/media", s.handleMedia)
		r.Get("/media/download", s.handleMediaDownload)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
