package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aexy-app/aexy/internal/agent"
	"github.com/aexy-app/aexy/internal/api"
	"github.com/aexy-app/aexy/internal/catalog"
	"github.com/aexy-app/aexy/internal/config"
	"github.com/aexy-app/aexy/internal/conversation"
	"github.com/aexy-app/aexy/internal/identity"
	"github.com/aexy-app/aexy/internal/live"
	"github.com/aexy-app/aexy/internal/metrics"
	"github.com/aexy-app/aexy/internal/middleware"
	"github.com/aexy-app/aexy/internal/quota"
	"github.com/aexy-app/aexy/internal/store"
	"github.com/aexy-app/aexy/internal/transcript"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

//nolint:funlen // Startup wiring is sequential to keep dependency setup explicit.
func serve() error {
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "ai_provider", cfg.AI.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load scenario catalog: %w", err)
	}
	slog.Info("Scenario catalog loaded", "scenarios", len(cat.All()))

	healthChecks := map[string]api.Pinger{"database": repo}

	var counter quota.Counter = repo
	if cfg.Quota.Backend == "redis" {
		rc := quota.NewRedisCounter(redis.NewClient(&redis.Options{Addr: cfg.Quota.RedisAddr}))
		defer func() {
			if closeErr := rc.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		counter = rc
		healthChecks["redis"] = rc
		slog.Info("Quota counter backed by redis", "addr", cfg.Quota.RedisAddr)
	}

	// Response generator.
	aiCfg := agent.DefaultConfig()
	aiCfg.Provider = cfg.AI.Provider
	aiCfg.APIKey = cfg.AI.APIKey
	aiCfg.ModelName = cfg.AI.Model
	aiCfg.Timeout = cfg.AI.Timeout
	gen, err := agent.New(ctx, aiCfg, logger)
	if err != nil {
		return fmt.Errorf("initialize response generator: %w", err)
	}

	// Observers.
	bus := conversation.NewBus()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	bus.Subscribe(m)

	transcripts, err := transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcript logger: %w", err)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()
	bus.Subscribe(transcript.Observer(transcripts))

	hub := live.NewHub(logger)
	bus.Subscribe(hub)

	// Sessions.
	persister := conversation.NewPersister(cfg.Session.PersistQueueSize, bus, logger)
	defer func() {
		if closeErr := persister.Close(); closeErr != nil {
			slog.Error("Failed to drain persistence queue", "error", closeErr)
		}
	}()

	sessions := conversation.NewManager(conversation.Deps{
		Scenarios: cat,
		Store:     repo,
		Counter:   counter,
		Generator: gen,
		Persister: persister,
		Bus:       bus,
		Avatars: conversation.Avatars{
			User:      cfg.Avatars.User,
			Assistant: cfg.Avatars.Assistant,
		},
		Logger: logger,
	}, repo)
	defer sessions.Close()
	m.RegisterLiveSessions(reg, sessions.Len)

	conversation.StartSweeper(ctx, sessions, cfg.Session.SweepInterval, cfg.Session.IdleTTL)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()
	turnLimit := middleware.RateLimit(limiter, func(r *http.Request) string {
		return identity.UserIDFromContext(r.Context())
	})

	// Handlers.
	apiHandler := api.NewHandler(repo, sessions, cat, m, logger)
	healthHandler := api.NewHealthHandler(5*time.Second, healthChecks)
	liveHandler := live.NewHandler(sessions, hub, m, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	corsCfg := middleware.DefaultCORSConfig(cfg.FrontendURL)
	if cfg.IsDevelopment() {
		corsCfg.AllowedOrigins = append(corsCfg.AllowedOrigins, "*")
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsCfg))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	// Learner routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r, turnLimit)
		r.Get("/ws/conversations/{id}", liveHandler.ServeHTTP)
	})

	// WriteTimeout stays 0 so WebSocket connections are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully", "live_sessions", sessions.Len())
	return nil
}
