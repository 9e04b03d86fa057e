package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loomworks/loom/internal/api"
	"github.com/loomworks/loom/internal/chunks"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/extraction"
	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/linker"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/merge"
	"github.com/loomworks/loom/internal/notify"
	"github.com/loomworks/loom/internal/orchestrator"
	"github.com/loomworks/loom/internal/ratelimit"
	"github.com/loomworks/loom/internal/registry"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("loomd starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	store, err := graph.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database connected")

	jobs := extraction.NewJobStore(store.Pool())
	stepLog := extraction.NewStepLog(store.Pool())
	stepWriter := extraction.NewAsyncStepWriter(stepLog, cfg.StepBuffer, slog.Default())

	// LLM provider
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	provider := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, slog.Default())
	slog.Info("llm provider ready", "model", cfg.OpenAIModel)

	limiter := ratelimit.NewLimiter(cfg.RateCapacity, cfg.RateRefill, cfg.AcquireTimeout)

	// Collaborators
	chunkSrc := chunks.NewSource(chunks.NewClient(cfg.ChunkStoreURL))
	typeSrc := registry.NewClient(cfg.RegistryURL)

	// NATS (optional — jobs run without notifications)
	var notifier *notify.Notifier
	if cfg.NotifyEnabled && cfg.NatsURL != "" {
		notifier, err = notify.New(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("notifications disabled")
	}
	defer notifier.Close()

	link := linker.New(store, slog.Default())
	reconciler := merge.NewReconciler(store, slog.Default())

	orch, err := orchestrator.New(jobs, stepWriter, chunkSrc, typeSrc, limiter, provider, link, notifier, slog.Default(), orchestrator.Options{
		Workers:     cfg.Workers,
		JobTimeout:  cfg.JobTimeout,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		slog.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	orch.Start()

	// HTTP API
	srv := api.NewServer(cfg.Port, orch, jobs, stepLog, reconciler, store, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("loomd ready", "port", cfg.Port, "workers", cfg.Workers)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	orch.Stop()
	stepWriter.Close()
	slog.Info("loomd stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
