// Package main is the entrypoint for the Pixelgrove API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pixelgrove/pixelgrove/internal/cache"
	"github.com/pixelgrove/pixelgrove/internal/config"
	"github.com/pixelgrove/pixelgrove/internal/csrf"
	"github.com/pixelgrove/pixelgrove/internal/handler"
	"github.com/pixelgrove/pixelgrove/internal/identity"
	"github.com/pixelgrove/pixelgrove/internal/metrics"
	"github.com/pixelgrove/pixelgrove/internal/middleware"
	"github.com/pixelgrove/pixelgrove/internal/oauth"
	"github.com/pixelgrove/pixelgrove/internal/repository"
	"github.com/pixelgrove/pixelgrove/internal/server"
	"github.com/pixelgrove/pixelgrove/internal/session"
	"github.com/pixelgrove/pixelgrove/internal/web"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Apply pending schema migrations before opening the runtime pool
	if err := repository.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		logger.Error(
			"failed to run migrations",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
		)
		os.Exit(1)
	}

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Metrics: counters are kept in memory and exposed on /metrics in
	// development only. Production scrapes nothing yet.
	var recorder metrics.Recorder
	var snapshotter metrics.Snapshotter
	if cfg.IsDevelopment() {
		inMemory := metrics.NewInMemory()
		recorder = inMemory
		snapshotter = inMemory
	} else {
		recorder = metrics.NewNoop()
	}

	// Initialize auth components
	sessions := session.NewManager([]byte(cfg.SessionSecret), cfg.SessionTTL, !cfg.IsDevelopment())
	reconciler := identity.NewReconciler(repo, logger, recorder)
	google := oauth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL())

	// Initialize handlers
	h := handler.New()
	healthHandler := handler.NewHealthHandler(repo, cacheClient)
	authHandler := handler.NewAuthHandler(logger, google, cacheClient, reconciler, sessions, recorder)
	userHandler := handler.NewUserHandler(logger, repo)

	// Setup router
	r, err := setupRouter(routerDeps{
		fallback:    h,
		health:      healthHandler,
		auth:        authHandler,
		user:        userHandler,
		sessions:    sessions,
		cacheClient: cacheClient,
		recorder:    recorder,
		snapshotter: snapshotter,
		cfg:         cfg,
		logger:      logger,
	})
	if err != nil {
		logger.Error("failed to set up router", "error", err)
		os.Exit(1)
	}

	// Create and run server
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// routerDeps bundles everything setupRouter wires together.
type routerDeps struct {
	fallback    *handler.Handler
	health      *handler.HealthHandler
	auth        *handler.AuthHandler
	user        *handler.UserHandler
	sessions    *session.Manager
	cacheClient *cache.Cache
	recorder    metrics.Recorder
	snapshotter metrics.Snapshotter
	cfg         *config.Config
	logger      *slog.Logger
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(deps routerDeps) (*chi.Mux, error) {
	cfg := deps.cfg
	logger := deps.logger

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment:      cfg.IsDevelopment(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// CORS is only needed when the frontend is served from another
	// origin; same-origin deployments leave the origin list empty.
	if origins := cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		corsCfg := middleware.DefaultCORSConfig()
		corsCfg.AllowedOrigins = origins
		corsCfg.AllowCredentials = true
		r.Use(middleware.CORS(corsCfg))
	}

	// Session resolution and antiforgery token issuance run on every
	// request so the SPA always has a fresh token pair to echo.
	csrfCfg := csrf.Config{
		Key:      []byte(cfg.SessionSecret),
		Logger:   logger,
		Recorder: deps.recorder,
		Secure:   !cfg.IsDevelopment(),
	}
	r.Use(session.Middleware(deps.sessions, logger))
	r.Use(csrf.TokenCookie(csrfCfg))

	// Health endpoints (no auth required)
	r.Get("/healthz", deps.health.Healthz)
	r.Get("/readyz", deps.health.Readyz)

	// Rate limit middleware configuration
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:       logger,
		Cache:        deps.cacheClient,
		LoginEnabled: cfg.RateLimitLoginEnabled,
		LoginPerMin:  cfg.RateLimitLoginPerMin,
		LoginBurst:   cfg.RateLimitLoginBurst,
	}

	// Login flow (per-IP rate limited; both legs of the redirect dance)
	r.With(middleware.RateLimitLogin(rateLimitCfg)).Get("/auth/login", deps.auth.Login)
	r.With(middleware.RateLimitLogin(rateLimitCfg)).Get(cfg.GoogleCallbackPath, deps.auth.Callback)
	r.With(csrf.Verify(csrfCfg), session.RequireUser()).Post("/auth/logout", deps.auth.Logout)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(csrf.Verify(csrfCfg))

		r.Get("/users/{id}", deps.user.Get)

		r.NotFound(deps.fallback.NotFound)
		r.MethodNotAllowed(deps.fallback.MethodNotAllowed)
	})

	// Metrics exposure in development only
	if cfg.IsDevelopment() && deps.snapshotter != nil {
		metricsHandler := handler.NewMetricsHandler(deps.snapshotter)
		r.Get("/metrics", metricsHandler.Metrics)
	}

	// Everything else is the frontend: the built bundle in production,
	// the dev server proxy in development.
	frontend, err := frontendHandler(cfg)
	if err != nil {
		return nil, err
	}
	r.NotFound(frontend.ServeHTTP)

	return r, nil
}

// frontendHandler picks the SPA serving strategy for the environment.
func frontendHandler(cfg *config.Config) (http.Handler, error) {
	if cfg.IsDevelopment() {
		return web.DevProxy(cfg.DevServerURL)
	}
	return web.SPA(cfg.WebDistDir), nil
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
