// TestCraft - test case generation server
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

	"github.com/joho/godotenv"

	"github.com/ashureev/testcraft/internal/abuse"
	"github.com/ashureev/testcraft/internal/api"
	"github.com/ashureev/testcraft/internal/blob"
	"github.com/ashureev/testcraft/internal/config"
	"github.com/ashureev/testcraft/internal/flow"
	"github.com/ashureev/testcraft/internal/identity"
	"github.com/ashureev/testcraft/internal/llm"
	"github.com/ashureev/testcraft/internal/middleware"
	"github.com/ashureev/testcraft/internal/moderation"
	"github.com/ashureev/testcraft/internal/store"
	"github.com/ashureev/testcraft/internal/sweeper"
	"github.com/ashureev/testcraft/internal/testgen"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	blobs, err := blob.NewStore(cfg.UploadDir, logger)
	if err != nil {
		slog.Error("Failed to initialize upload directory", "error", err)
		os.Exit(1)
	}

	completer, err := llm.NewGeminiCompleter(context.Background(), llm.GeminiConfig{
		APIKey: cfg.GoogleAPIKey,
		Model:  cfg.LLM.Model,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize completion client", "error", err)
		os.Exit(1)
	}
	slog.Info("Completion client initialized", "model", cfg.LLM.Model, "safety_model", cfg.LLM.SafetyModel)

	// Initialize services.
	tracker := abuse.NewTracker(repo, abuse.Policy{
		Threshold:   cfg.Abuse.BlockThreshold,
		Duration:    cfg.Abuse.BlockDuration,
		SampleLimit: cfg.Abuse.SampleLimit,
	}, logger)

	flows := flow.New(completer, tracker, blobs, flow.Settings{
		Gates: moderation.Config{
			Model:       cfg.LLM.Model,
			SafetyModel: cfg.LLM.SafetyModel,
			Timeout:     cfg.LLM.GateTimeout,
		},
		Generation: testgen.Config{
			Model:           cfg.LLM.Model,
			GenerateTimeout: cfg.LLM.GenerateTimeout,
			ReviewTimeout:   cfg.LLM.ReviewTimeout,
		},
	}, logger)

	var verifier identity.Verifier
	if cfg.GoogleClientID != "" {
		verifier = identity.NewGoogleVerifier(cfg.GoogleClientID)
	} else {
		slog.Warn("GOOGLE_CLIENT_ID not set, Google sign-in is disabled")
	}
	auth := identity.NewAuthenticator(verifier, repo, cfg.SessionTTL, logger)
	limiter := middleware.NewRateLimiter(cfg.Limits.RateLimitPerMinute)

	// Setup router.
	r := api.NewRouter(api.RouterConfig{
		Auth: api.NewAuthHandler(auth, flows, logger),
		TestCases: api.NewTestCaseHandler(flows, blobs, api.UploadLimits{
			MaxFileBytes: cfg.Limits.MaxUploadBytes,
			MaxFiles:     cfg.Limits.MaxUploadFiles,
		}, logger),
		Progress:      api.NewProgressHandler(flows, cfg.FrontendURL, cfg.IsDevelopment(), logger),
		Health:        api.NewHealthHandler(repo, 5*time.Second),
		Authenticator: auth,
		Blocks:        flows,
		Limiter:       limiter,
		Origins:       cfg.AllowedOrigins(),
		Logger:        logger,
	})

	// Generation calls can take minutes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper.New(repo, blobs, limiter, sweeper.Config{}, logger).Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
