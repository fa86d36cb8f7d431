// Package server is the composition root: it builds every dependency from
// config, wires handlers to routes, and owns the process lifecycle.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  → sqlite.DB                           (users, activities)
//	  → auth.TokenService, auth.ClerkVerifier
//	  → service.ActivityLogger              (background writer)
//	  → service.{Auth,Profile,Leaderboard,Points}Service
//	  → service.PointsScheduler             (daily recompute)
//	  → handler.*Handler
//	  → chi routes
//
// Handlers never see the database and services never see HTTP.
//
// LIFECYCLE:
// New opens the store and builds the router. Start serves until SIGINT or
// SIGTERM, then shuts down in reverse: HTTP server, scheduler, activity
// logger, Redis, store.
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/mumbai-dao/internal/auth"
	"github.com/sakif/mumbai-dao/internal/config"
	"github.com/sakif/mumbai-dao/internal/handler"
	"github.com/sakif/mumbai-dao/internal/middleware"
	sqliteRepo "github.com/sakif/mumbai-dao/internal/repository/sqlite"
	"github.com/sakif/mumbai-dao/internal/service"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	db         *sqliteRepo.DB
	redis      *redis.Client // nil unless redis.addr is set
	activities *service.ActivityLogger
	scheduler  *service.PointsScheduler
}

// New opens the store and wires every route. The caller must call Start
// or Close to release what New acquired.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := OpenStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("server: setting up routes: %w", err)
	}

	return s, nil
}

// OpenStore opens the SQLite store at path, creating its directory.
func OpenStore(path string) (*sqliteRepo.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("server: creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(path)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}
	return db, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes builds the services and registers the routes.
//
// ROUTES:
//
//	GET  /                        → API banner
//	GET  /healthz                 → store ping
//	GET  /metrics                 → Prometheus
//	POST /auth/nonce              → login challenge          (rate limited)
//	POST /auth/verify             → signature → JWT          (rate limited)
//	GET  /main                    → profile + leaderboard    (bearer)
//	GET  /leaderboard             → top members              (bearer)
//	GET  /activities              → recent activity          (bearer)
//	POST /profile/username        → rename                   (bearer)
//	POST /profile/connect-social  → link a social account    (bearer)
func (s *Server) setupRoutes() error {
	cfg := s.cfg

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	proxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	// A nil *ClerkVerifier stored in the interface would not compare equal
	// to nil, so the interface stays unset when Clerk is not configured.
	var verifier auth.SocialVerifier
	if cfg.Social.ClerkSecretKey != "" {
		verifier = auth.NewClerkVerifier(cfg.Social.ClerkSecretKey, cfg.Social.ClerkBaseURL, cfg.Social.Timeout)
	} else {
		s.logger.Warn("CLERK_SECRET_KEY not set, social accounts cannot be verified",
			slog.Bool("mockFallback", cfg.Social.AllowMockFallback),
		)
	}

	s.activities = service.NewActivityLogger(s.db, s.logger, service.ActivityLoggerConfig{})

	authService := service.NewAuthService(s.db, tokens, s.activities, s.logger,
		service.WithNonceTTL(cfg.Auth.NonceTTL),
	)
	profileService := service.NewProfileService(s.db, verifier, s.activities, s.logger, cfg.Social.AllowMockFallback)
	boardService := service.NewLeaderboardService(s.db, s.logger, nil)
	pointsService := service.NewPointsService(s.db, s.logger, service.PointsConfig{
		RecordTimeout: cfg.Points.RecordTimeout,
	})
	s.scheduler = service.NewPointsScheduler(pointsService, cfg.Points.ScheduleHour, cfg.Points.RunOnStart, s.logger)

	clock := func() time.Time { return time.Now().UTC() }
	rs := handler.NewResponder(s.logger, !cfg.IsProduction())
	healthHandler := handler.NewHealthHandler(s.db, rs)
	authHandler := handler.NewAuthHandler(authService, rs, clock)
	memberHandler := handler.NewMemberHandler(boardService, s.activities, rs, clock)
	profileHandler := handler.NewProfileHandler(profileService, rs)

	limiter := s.newLimiter()

	// === Global Middleware ===
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.RealIP(proxies))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(chimw.Recoverer)
	s.router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	s.router.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	// === Public ===
	s.router.Get("/", healthHandler.HandleRoot)
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit("auth", limiter, s.logger))
		r.Post("/nonce", authHandler.HandleNonce)
		r.Post("/verify", authHandler.HandleVerify)
	})

	// === Members ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens, s.db))

		r.Get("/main", memberHandler.HandleMain)
		r.Get("/leaderboard", memberHandler.HandleLeaderboard)
		r.Get("/activities", memberHandler.HandleActivities)
		r.Post("/profile/username", profileHandler.HandleUsername)
		r.Post("/profile/connect-social", profileHandler.HandleConnectSocial)
	})

	return nil
}

// newLimiter picks the shared Redis limiter when Redis is configured and
// reachable, the in-process one otherwise.
func (s *Server) newLimiter() middleware.Limiter {
	rl := middleware.RateLimitConfig{
		RequestsPerMinute: s.cfg.RateLimit.AuthRequestsPerMinute,
		Burst:             s.cfg.RateLimit.AuthBurst,
	}
	if s.cfg.Redis.Addr == "" {
		return middleware.NewMemoryLimiter(rl)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("redis unreachable, rate limiting in memory",
			slog.String("addr", s.cfg.Redis.Addr),
			slog.String("error", err.Error()),
		)
		client.Close()
		return middleware.NewMemoryLimiter(rl)
	}

	s.redis = client
	return middleware.NewRedisLimiter(client, rl)
}

// Start serves HTTP and runs the points scheduler until SIGINT/SIGTERM,
// then shuts everything down. In-flight requests get 30 seconds.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("environment", s.cfg.Server.Environment),
			slog.String("database", s.cfg.Database.Path),
			slog.Bool("redis", s.redis != nil),
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

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close stops the background workers and releases the store. Safe to call
// more than once.
func (s *Server) Close() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.activities != nil {
		s.activities.Close()
	}

	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
		s.redis = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}
