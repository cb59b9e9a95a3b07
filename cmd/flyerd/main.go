package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/volantino-labs/flyer-extractor/internal/async"
	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/jobs"
	"github.com/volantino-labs/flyer-extractor/internal/normalize"
	"github.com/volantino-labs/flyer-extractor/internal/pipeline"
	"github.com/volantino-labs/flyer-extractor/internal/provider"
	"github.com/volantino-labs/flyer-extractor/internal/rasterize"
	"github.com/volantino-labs/flyer-extractor/internal/repository"
	"github.com/volantino-labs/flyer-extractor/internal/services"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("flyerd.config_invalid", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("flyerd.db_open_failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Error("flyerd.migrate_failed", "error", err)
			os.Exit(1)
		}
	}

	jobRepo := repository.NewJobRepository(store)
	productRepo := repository.NewProductRepository(store)
	supermarketRepo := repository.NewSupermarketRepository(store)
	manager := jobs.NewManager(jobRepo, productRepo, supermarketRepo, logger)

	normalizer, err := normalize.New()
	if err != nil {
		logger.Error("flyerd.catalog_failed", "error", err)
		os.Exit(1)
	}

	orchestrator, err := pipeline.NewOrchestrator(buildEndpoints(cfg.Provider, cfg.Pipeline, logger), pipeline.Policy{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BaseDelay:   cfg.Pipeline.BaseDelay,
		MaxDelay:    cfg.Pipeline.MaxDelay,
	}, logger)
	if err != nil {
		logger.Error("flyerd.pipeline_failed", "error", err)
		os.Exit(1)
	}

	raster := rasterize.New(rasterize.Config{
		Pdftoppm:    cfg.Raster.Pdftoppm,
		Pdfinfo:     cfg.Raster.PdfInfo,
		DPI:         cfg.Raster.DPI,
		MaxPages:    cfg.Raster.MaxPages,
		ScratchRoot: cfg.Raster.ScratchRoot,
	}, nil, logger)
	raster.RemoveStale(24 * time.Hour)

	fetcher := rasterize.NewFetcher(cfg.Raster.DownloadTimeout)
	processor := services.NewProcessor(manager, raster, fetcher, orchestrator, normalizer, logger,
		services.WithPageWorkers(cfg.Pipeline.PageWorkers),
		services.WithPagePause(cfg.Pipeline.CredentialGap),
		services.WithMaxProducts(cfg.Provider.MaxProducts),
	)

	runner := async.NewRunner(manager, processor, logger,
		async.WithWorkers(cfg.WorkerNum),
		async.WithJobDeadline(cfg.Pipeline.JobDeadline),
	)
	sweeper := jobs.NewSweeper(jobRepo, cfg.Sweeper, logger)

	logger.Info("flyerd.started",
		"workers", cfg.WorkerNum,
		"page_workers", cfg.Pipeline.PageWorkers,
		"gemini_keys", len(cfg.Provider.GeminiKeys),
		"openai_fallback", cfg.Provider.OpenAIKey != "",
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	wg.Wait()
	logger.Info("flyerd.stopped")
}

// buildEndpoints assembles the provider chain: Gemini with its key pool
// first, OpenAI as fallback when a key is configured.
func buildEndpoints(p common.ProviderConfig, pl common.PipelineConfig, logger *slog.Logger) []pipeline.Endpoint {
	endpoints := []pipeline.Endpoint{{
		Client: provider.NewGemini(provider.GeminiConfig{
			BaseURL: p.GeminiBaseURL,
			Model:   p.GeminiModel,
			Timeout: p.Timeout,
		}, logger),
		Keys: provider.NewKeyPool(p.GeminiKeys, pl.RateLimitCool),
	}}
	if p.OpenAIKey != "" {
		endpoints = append(endpoints, pipeline.Endpoint{
			Client: provider.NewOpenAI(provider.OpenAIConfig{
				BaseURL: p.OpenAIBaseURL,
				Model:   p.OpenAIModel,
				Timeout: p.Timeout,
			}, logger),
			Keys: provider.NewKeyPool([]string{p.OpenAIKey}, pl.RateLimitCool),
		})
	}
	return endpoints
}
