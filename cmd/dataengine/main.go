package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dataengine/core/internal/domain"
	"github.com/dataengine/core/internal/embedding"
	"github.com/dataengine/core/internal/engine"
	"github.com/dataengine/core/internal/infra/config"
	"github.com/dataengine/core/internal/infra/logger"
	"github.com/dataengine/core/internal/infra/tracer"
	"github.com/dataengine/core/internal/store"
	"github.com/dataengine/core/internal/usecase/eventbus"
	"github.com/dataengine/core/internal/vectorindex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config
	cfgPath := configPath()

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg = config.Defaults()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Store
	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	// 4. Embedding provider
	embedder, err := buildEmbedder(cfg.Embedding, log)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	// 5. Event bus, vector index
	bus := eventbus.New(log)
	defer bus.Close()
	idx := vectorindex.New()

	// 6. Engines
	docs := engine.New[document]("documents", st, embedder, idx, bus, engine.WithLogger[document](log))
	if err := docs.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild documents: %w", err)
	}

	// 7. Maintenance sweeper
	sweeper := engine.NewSweeper(bus, log)
	sweeper.Watch(docs)
	if cfg.Maintenance.Enabled {
		if err := sweeper.Start(cfg.Maintenance.SweepSchedule); err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	// 8. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("dataengine starting",
		"store", cfg.Store.DSN,
		"embedding", cfg.Embedding.Provider,
		"maintenance", cfg.Maintenance.Enabled,
	)

	seedErr := seedDemoDocument(ctx, docs)
	if seedErr != nil {
		log.Warn("demo seed skipped", "error", seedErr)
	}

	<-ctx.Done()
	log.Info("dataengine stopping")
	return nil
}

// buildEmbedder constructs the configured embedding provider and wraps it
// with the caching, rate-limiting, and circuit-breaking decorators a remote
// backend needs. The local provider is used as-is: it never fails and never
// needs throttling.
func buildEmbedder(cfg config.EmbeddingConfig, log *slog.Logger) (domain.EmbeddingProvider, error) {
	var provider domain.EmbeddingProvider

	switch cfg.Provider {
	case "ollama":
		provider = embedding.NewOllamaProvider(
			embedding.WithOllamaModel(cfg.Ollama.Model),
			embedding.WithOllamaDimensions(cfg.Ollama.Dimensions),
			embedding.WithOllamaBaseURL(cfg.Ollama.BaseURL),
		)
	case "openai":
		provider = embedding.NewOpenAIProvider(cfg.OpenAI.APIKey,
			embedding.WithOpenAIModel(cfg.OpenAI.Model),
			embedding.WithOpenAIDimensions(cfg.OpenAI.Dimensions),
			embedding.WithOpenAIBaseURL(cfg.OpenAI.BaseURL),
		)
	case "gemini":
		provider = embedding.NewGeminiProvider(cfg.Gemini.APIKey,
			embedding.WithGeminiModel(cfg.Gemini.Model),
			embedding.WithGeminiDimensions(cfg.Gemini.Dimensions),
			embedding.WithGeminiBaseURL(cfg.Gemini.BaseURL),
		)
	default:
		return embedding.NewLocalProvider(), nil
	}

	provider = embedding.NewBreakerProvider(provider, embedding.BreakerConfig{
		MaxFailures: cfg.CircuitBreaker.MaxFailures,
		Timeout:     cfg.CircuitBreaker.Timeout,
		Interval:    cfg.CircuitBreaker.Interval,
	}, log)
	provider = embedding.NewLimitedProvider(provider, cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst)

	if cfg.CacheSize > 0 {
		provider = embedding.NewCachedEmbedder(provider, cfg.CacheSize)
	}
	return provider, nil
}

// seedDemoDocument inserts one sample row on startup so a fresh database has
// something for the sweeper and the vector index to work against. On later
// runs the Upsert updates the existing row, refreshing its UpdatedAt.
func seedDemoDocument(ctx context.Context, docs *engine.Engine[document]) error {
	return docs.Upsert(ctx, document{
		ID:        "demo-1",
		Title:     "Getting started",
		Body:      "This is a seed document created on first run.",
		Status:    "active",
		Summary:   "An introductory document seeded at startup.",
		UpdatedAt: time.Now(),
	})
}

// configPath resolves the config file location from --config, the
// DATAENGINE_CONFIG env var, or the config.yaml default, in that order.
func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("DATAENGINE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
