// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config ─► sqlite.DB ─┬─► SceneService ─► SceneHandler
//	                            ├─► AuthService  ─► AuthHandler
//	                            └─► titles.Pool (SetVideoTitle)
//
// This is the "composition root" pattern: all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/scene-capture/internal/auth"
	"github.com/sakif/scene-capture/internal/config"
	"github.com/sakif/scene-capture/internal/handler"
	"github.com/sakif/scene-capture/internal/middleware"
	sqliteRepo "github.com/sakif/scene-capture/internal/repository/sqlite"
	"github.com/sakif/scene-capture/internal/service"
	"github.com/sakif/scene-capture/internal/titles"
	"github.com/sakif/scene-capture/internal/titles/youtube"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the title worker pool.
// Close releases both, in that order reversed: workers first (they write to
// the database), then the database.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	titles *titles.Pool // nil when title lookups are disabled
	tokens *auth.TokenService
}

// New opens the database, builds every service and handler, and registers
// the routes. The title workers are started here too, so a Server returned
// without error is ready to serve.
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` to avoid confusion with
// the sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if dir := filepath.Dir(cfg.Database.Path); cfg.Database.Path != ":memory:" && dir != "." {
		// Like `mkdir -p`: the data directory may not exist on first run.
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
	}

	if cfg.Titles.Enabled {
		ytCfg := youtube.DefaultConfig()
		ytCfg.Timeout = cfg.Titles.Timeout
		s.titles = titles.NewPool(youtube.New(ytCfg), db, titles.Config{
			Workers:   cfg.Titles.Workers,
			QueueSize: cfg.Titles.QueueSize,
			Timeout:   cfg.Titles.Timeout,
		}, logger)
		s.titles.Start()
	}

	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                    → DB ping
// POST   /api/auth/register          → create account
// POST   /api/auth/login             → log in
// POST   /api/auth/logout            → clear cookie
// GET    /api/auth/current-user      → who am I            [auth]
// GET    /auth/github/login          → OAuth redirect
// GET    /auth/github/callback       → OAuth return
// GET    /api/scenes                 → list visible        [auth]
// POST   /api/scenes                 → create              [auth]
// GET    /api/scenes/{id}            → read                [optional auth]
// GET    /api/scenes/{id}/audio      → raw audio           [optional auth]
// PUT    /api/scenes/{id}            → sparse update       [auth]
// DELETE /api/scenes/{id}            → delete              [auth]
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info and the request ID
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. CORS: answers preflights before any routing happens
// 6. MaxBytes: caps every request body
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigin))
	s.router.Use(middleware.MaxBytes(s.config.Server.MaxUploadBytes))

	// === Services ===
	// The handler never touches the database directly.
	// The service never touches HTTP. Clean separation!
	users := s.db.Users()
	authService := service.NewAuthService(users, s.tokens, auth.NewPasswordService(), s.logger)

	var queue service.TitleQueue
	if s.titles != nil {
		queue = s.titles
	}
	sceneService := service.NewSceneService(s.db, queue, s.logger)

	// GitHub sign-in is optional; without credentials the routes answer 404.
	var github handler.GitHubAuthenticator
	if s.config.GitHub.Enabled() {
		github = auth.NewGitHubProvider(
			s.config.GitHub.ClientID,
			s.config.GitHub.ClientSecret,
			s.config.GitHub.CallbackURL,
		)
	}

	// === Handlers ===
	healthHandler := handler.NewHealthHandler(s.db, s.logger)
	authHandler := handler.NewAuthHandler(authService, github, s.config.Auth.CookieSecure, s.logger)
	sceneHandler := handler.NewSceneHandler(sceneService, s.logger)

	requireAuth := auth.RequireAuth(s.tokens)
	optionalAuth := auth.OptionalAuth(s.tokens)

	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(requireAuth).Get("/current-user", authHandler.HandleCurrentUser)
		})

		r.Route("/scenes", func(r chi.Router) {
			// Reads: public scenes are visible without logging in.
			r.Group(func(r chi.Router) {
				r.Use(optionalAuth)
				r.Get("/{id}", sceneHandler.HandleGet)
				r.Get("/{id}/audio", sceneHandler.HandleAudio)
			})

			// Everything else needs an identity.
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/", sceneHandler.HandleList)
				r.Post("/", sceneHandler.HandleCreate)
				r.Put("/{id}", sceneHandler.HandleUpdate)
				r.Delete("/{id}", sceneHandler.HandleDelete)
			})
		})
	})
}

// Close stops the title workers and closes the database. Safe to call once
// the HTTP server has stopped taking requests.
func (s *Server) Close() error {
	if s.titles != nil {
		s.titles.Stop()
	}
	return s.db.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (ShutdownTimeout, 30s default)
// 3. Stop the title workers
// 4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	// Runs after everything else in this function, even on a startup error.
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	// Uploads can carry several MB of audio, so the read/write timeouts are
	// looser than a pure JSON API would need.
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("database", s.config.Database.Path),
			slog.Bool("titles", s.titles != nil),
			slog.Bool("github", s.config.GitHub.Enabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
