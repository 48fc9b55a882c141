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

	"github.com/joho/godotenv"

	"github.com/salesqa/salesqa/internal/api"
	"github.com/salesqa/salesqa/internal/auth"
	"github.com/salesqa/salesqa/internal/config"
	"github.com/salesqa/salesqa/internal/llm"
	"github.com/salesqa/salesqa/internal/observability"
	"github.com/salesqa/salesqa/internal/pipeline"
	s3store "github.com/salesqa/salesqa/internal/storage/s3"
	"github.com/salesqa/salesqa/internal/store"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load .env file", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv("salesqa-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	handler, closeStore, err := newHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize api", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// newHandler opens the store and wires the pipeline behind the HTTP API.
// The returned func closes the store.
func newHandler(ctx context.Context, cfg config.Config, logger *slog.Logger) (http.Handler, func() error, error) {
	desc, err := store.DescriptorFrom(cfg.Store, cfg.SQL, store.ObjectStoreOpener(s3store.Opener(s3store.ConfigFrom(cfg.ObjectStore))), cfg.ObjectStore.CacheDir)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	handle, err := store.OpenWithRetry(ctx, desc, cfg.Store.AcquireTimeout, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", desc.Dialect, err)
	}
	logger.Info("store ready", slog.String("dialect", string(handle.Dialect())), slog.Any("tables", handle.UsableTables()))

	gateway := llm.NewGateway(llm.Config{
		OpenAIAPIKey:  cfg.AI.OpenAIAPIKey,
		OpenAIBaseURL: cfg.AI.OpenAIBaseURL,
		OpenAIModel:   cfg.AI.OpenAIModel,
		GoogleAPIKey:  cfg.AI.GoogleAPIKey,
		GeminiBaseURL: cfg.AI.GeminiBaseURL,
		GeminiModel:   cfg.AI.GeminiModel,
		Temperature:   cfg.AI.Temperature,
		Timeout:       cfg.AI.Timeout,
		CacheTTL:      cfg.AI.CacheTTL,
		CacheCapacity: uint64(cfg.AI.CacheCapacity),
	}, logger)

	prompts, err := pipeline.LoadPrompts(cfg.AI.PromptsFile)
	if err != nil {
		_ = handle.Close()
		return nil, nil, fmt.Errorf("load prompts %q: %w", cfg.AI.PromptsFile, err)
	}
	answerer, err := pipeline.New(handle, gateway, pipeline.Options{
		ReadOnly:       cfg.SQL.ReadOnly,
		PromptRowLimit: cfg.SQL.PromptRowLimit,
		Prompts:        &prompts,
		Logger:         logger,
	})
	if err != nil {
		_ = handle.Close()
		return nil, nil, fmt.Errorf("initialize pipeline: %w", err)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(api.CheckStore(handle)),
		DependencyTimeout: time.Second,
		Pipeline:          answerer,
		Schema:            handle,
		Version:           version,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			_ = handle.Close()
			return nil, nil, fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}
	return api.NewHandler(cfg, deps), handle.Close, nil
}
