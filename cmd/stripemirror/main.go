package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rajasatyajit/stripemirror/config"
	"github.com/rajasatyajit/stripemirror/internal/actions"
	"github.com/rajasatyajit/stripemirror/internal/api"
	"github.com/rajasatyajit/stripemirror/internal/auth"
	"github.com/rajasatyajit/stripemirror/internal/database"
	"github.com/rajasatyajit/stripemirror/internal/identity"
	"github.com/rajasatyajit/stripemirror/internal/lock"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/metrics"
	middlewares "github.com/rajasatyajit/stripemirror/internal/middleware"
	"github.com/rajasatyajit/stripemirror/internal/ratelimit"
	"github.com/rajasatyajit/stripemirror/internal/redirect"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
	"github.com/rajasatyajit/stripemirror/internal/webhook"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting stripemirror",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer db.Close(ctx)

	backend := store.New(db)
	if pg, ok := backend.(*store.PostgresBackend); ok {
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate mirror schema", "error", err)
		}
	}

	// Redis is optional: it serializes upserts across replicas and backs the action rate limit.
	var (
		locker  lock.Locker = lock.NewLocalLocker()
		limiter middlewares.RateChecker
	)
	if cfg.Redis.URL != "" {
		rl, err := ratelimit.NewManager(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to connect to redis", "error", err)
		}
		defer rl.Close()
		locker = lock.NewRedisLocker(rl.Client(), cfg.Redis.LockTTL)
		limiter = rl
		logger.Info("Redis enabled for locks and rate limits")
	}

	mirror := cfg.Mirror
	dispatcher := store.NewDispatcher(backend, store.WithLocker(locker))
	provider := stripeclient.New(mirror.Stripe)
	registry := syncer.NewRegistry(dispatcher, provider)
	handlers := webhook.All(registry, dispatcher)
	orchestrator := syncer.NewOrchestrator(registry, provider, webhook.Events(handlers))
	resolver := identity.NewResolver(dispatcher, provider, locker, mirror)

	orchestrator.Start(ctx, mirror)
	if mirror.Stripe.SecretKey != "" {
		go reconcileProvider(ctx, orchestrator, mirror)
	}

	// Setup HTTP server
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middlewares.Security)

	apiHandler := api.NewHandler(api.Deps{
		Config:       mirror,
		Store:        dispatcher,
		Actions:      actions.New(mirror, auth.PrincipalAuthorizer{}, resolver, registry, dispatcher, provider),
		Orchestrator: orchestrator,
		Keys:         auth.NewKeyStore(dispatcher, cfg.Admin.KeyEnv),
		Webhook:      webhook.NewDispatcher(mirror, handlers),
		Redirect:     redirect.NewDispatcher(mirror, redirect.MustRegistry(redirect.Builtins(registry, dispatcher)...)),
		AdminSecret:  cfg.Admin.AdminSecret,
		RateLimiter:  limiter,
		ActionRPM:    cfg.Redis.ActionRPM,
		CORSOrigins:  cfg.Server.CORSAllowedOrigins,

		RequestTimeout: cfg.Server.WriteTimeout,
		AdminTimeout:   cfg.Server.AdminTimeout,
	}, Version, BuildTime, GitCommit)
	apiHandler.RegisterRoutes(r)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", addr, "webhook_path", mirror.Webhook.Path, "redirect_prefix", mirror.Redirect.PathPrefix)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

// reconcileProvider makes sure the Stripe side is ready before the first action: the
// webhook endpoint (when the public site URL is known) and a default portal
// configuration.
func reconcileProvider(ctx context.Context, o *syncer.Orchestrator, cfg config.Configuration) {
	if cfg.App.SiteURL != "" {
		res, err := o.EnsureWebhookEndpoint(ctx, cfg)
		if err != nil {
			logger.Error("Failed to reconcile webhook endpoint", "error", err)
		} else {
			logger.Info("Webhook endpoint reconciled", "id", res.ID, "created", res.Created, "added", len(res.Added))
		}
	}

	id, created, err := o.EnsurePortalConfiguration(ctx, cfg)
	if err != nil {
		logger.Error("Failed to reconcile portal configuration", "error", err)
		return
	}
	logger.Info("Portal configuration reconciled", "id", id, "created", created)
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", "address", addr, "path", path)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
