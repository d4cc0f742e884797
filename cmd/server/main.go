// Ask Danta - research chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/askdanta/internal/api"
	"github.com/ashureev/askdanta/internal/backend"
	"github.com/ashureev/askdanta/internal/chat"
	"github.com/ashureev/askdanta/internal/config"
	"github.com/ashureev/askdanta/internal/identity"
	"github.com/ashureev/askdanta/internal/middleware"
	"github.com/ashureev/askdanta/internal/research"
	"github.com/ashureev/askdanta/internal/session"
	"github.com/ashureev/askdanta/internal/store"
	"github.com/ashureev/askdanta/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Backend.BaseURL)
	if cfg.Backend.AccessToken == "" {
		slog.Warn("DANTA_ACCESS_TOKEN is not set; users without their own token cannot reach the backend")
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if err := identity.SeedUsers(context.Background(), repo, cfg.SeedUsers); err != nil {
		slog.Error("Failed to seed users", "error", err)
		os.Exit(1)
	}

	client := backend.NewClient(cfg.Backend.BaseURL, backend.Timeouts{
		Auth:   cfg.Backend.AuthTimeout,
		Submit: cfg.Backend.SubmitTimeout,
		Read:   cfg.Backend.ReadTimeout,
	}, logger)
	researchAPI := backend.NewCachedClient(client, cfg.Backend.ResultCacheTTL)

	// Initialize services.
	authenticator := session.NewAuthenticator(researchAPI, logger)
	orchestrator := research.NewOrchestrator(researchAPI, research.Config{
		PollInterval: cfg.Research.PollInterval,
		MaxPolls:     cfg.Research.MaxPolls,
	}, logger)
	dispatcher := research.NewDispatcher(researchAPI, orchestrator, authenticator, cfg.Research.TaskConfig, logger)
	logins := identity.NewService(repo, identity.NewStoreVerifier(repo), cfg.LoginSessionTTL, cfg.IsDevelopment())
	conns := chat.NewConnManager()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg)
	routes := &api.Routes{
		Base:   baseHandler,
		Auth:   api.NewAuthHandler(baseHandler, logins, conns),
		Health: api.NewHealthHandler(repo),
	}
	chatHandler := chat.NewHandler(repo, authenticator, dispatcher, conns,
		chat.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		cfg.Backend.AccessToken, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	routes.RegisterRoutes(r, logins.Middleware)

	// WebSocket endpoint.
	r.With(logins.Middleware).Get("/ws/chat", chatHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WriteTimeout stays 0 so long-lived websocket chats are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return identity.RunSweeper(gctx, repo, 0)
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Hijacked websockets outlive srv.Shutdown.
		return chatHandler.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
