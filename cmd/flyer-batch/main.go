// flyer-batch enqueues a flyer, waits for extraction to finish, and
// optionally writes the products to an XLSX workbook. Useful for testing
// a flyer end to end without the daemon's polling loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/volantino-labs/flyer-extractor/constants"
	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/export"
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

	var (
		pdfPath     = flag.String("pdf", "", "path to a local flyer PDF")
		sourceURL   = flag.String("url", "", "flyer URL to download")
		supermarket = flag.String("supermarket", "", "supermarket chain name")
		xlsxOut     = flag.String("xlsx", "", "write products to this XLSX file when done")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if (*pdfPath == "") == (*sourceURL == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -pdf and -url is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("batch.config_invalid", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *pdfPath, *sourceURL, *supermarket, *xlsxOut); err != nil {
		logger.Error("batch.failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger, pdfPath, sourceURL, supermarket, xlsxOut string) error {
	store, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
	}

	jobRepo := repository.NewJobRepository(store)
	productRepo := repository.NewProductRepository(store)
	supermarketRepo := repository.NewSupermarketRepository(store)
	manager := jobs.NewManager(jobRepo, productRepo, supermarketRepo, logger)

	normalizer, err := normalize.New()
	if err != nil {
		return err
	}
	orchestrator, err := pipeline.NewOrchestrator([]pipeline.Endpoint{{
		Client: provider.NewGemini(provider.GeminiConfig{
			BaseURL: cfg.Provider.GeminiBaseURL,
			Model:   cfg.Provider.GeminiModel,
			Timeout: cfg.Provider.Timeout,
		}, logger),
		Keys: provider.NewKeyPool(cfg.Provider.GeminiKeys, cfg.Pipeline.RateLimitCool),
	}}, pipeline.Policy{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BaseDelay:   cfg.Pipeline.BaseDelay,
		MaxDelay:    cfg.Pipeline.MaxDelay,
	}, logger)
	if err != nil {
		return err
	}

	raster := rasterize.New(rasterize.Config{
		Pdftoppm:    cfg.Raster.Pdftoppm,
		Pdfinfo:     cfg.Raster.PdfInfo,
		DPI:         cfg.Raster.DPI,
		MaxPages:    cfg.Raster.MaxPages,
		ScratchRoot: cfg.Raster.ScratchRoot,
	}, nil, logger)
	fetcher := rasterize.NewFetcher(cfg.Raster.DownloadTimeout)
	processor := services.NewProcessor(manager, raster, fetcher, orchestrator, normalizer, logger,
		services.WithPageWorkers(cfg.Pipeline.PageWorkers),
		services.WithMaxProducts(cfg.Provider.MaxProducts),
	)

	filename := filepath.Base(pdfPath)
	if pdfPath == "" {
		filename = "flyer.pdf"
	}
	job, err := manager.Enqueue(ctx, jobs.EnqueueParams{
		Filename:        filename,
		FilePath:        pdfPath,
		SourceURL:       sourceURL,
		SupermarketName: supermarket,
	})
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	logger.Info("batch.enqueued", "job_id", job.ID)

	claimed, err := manager.Claim(ctx)
	if err != nil {
		return fmt.Errorf("claiming job: %w", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		return fmt.Errorf("job %s was claimed elsewhere", job.ID)
	}

	jobCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.JobDeadline)
	defer cancel()
	start := time.Now()
	if err := processor.Process(jobCtx, claimed); err != nil {
		return fmt.Errorf("processing: %w", err)
	}

	final, err := manager.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if final.Status != constants.JobCompleted {
		return fmt.Errorf("job finished %s: %s", final.Status, final.Message)
	}
	logger.Info("batch.done",
		"job_id", job.ID,
		"products", final.TotalProducts,
		"elapsed", time.Since(start).Round(time.Second).String(),
	)

	if xlsxOut != "" {
		svc := export.NewService(jobRepo, productRepo, logger)
		data, err := svc.ExportProductsXLSX(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("exporting xlsx: %w", err)
		}
		if err := os.WriteFile(xlsxOut, data, 0o644); err != nil {
			return fmt.Errorf("writing xlsx: %w", err)
		}
		logger.Info("batch.xlsx_written", "path", xlsxOut, "bytes", len(data))
	}
	return nil
}
