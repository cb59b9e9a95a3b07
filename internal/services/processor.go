package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/volantino-labs/flyer-extractor/internal/entity"
	"github.com/volantino-labs/flyer-extractor/internal/jobs"
	"github.com/volantino-labs/flyer-extractor/internal/normalize"
	"github.com/volantino-labs/flyer-extractor/internal/pipeline"
	"github.com/volantino-labs/flyer-extractor/internal/provider"
	"github.com/volantino-labs/flyer-extractor/internal/rasterize"
)

// Processor runs one claimed job end to end: fetch, rasterize, extract
// page by page, normalize, dedup, persist, finalize.
type Processor struct {
	manager      *jobs.Manager
	raster       *rasterize.Rasterizer
	fetcher      *rasterize.Fetcher
	orchestrator *pipeline.Orchestrator
	normalizer   *normalize.Normalizer
	log          *slog.Logger

	pageWorkers int
	pagePause   time.Duration
	maxProducts int
}

// Option configures a Processor.
type Option func(*Processor)

// WithPageWorkers sets how many pages are extracted concurrently.
func WithPageWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.pageWorkers = n
		}
	}
}

// WithPagePause sets the spacing between page submissions, easing
// provider rate limits on large flyers.
func WithPagePause(d time.Duration) Option {
	return func(p *Processor) {
		if d >= 0 {
			p.pagePause = d
		}
	}
}

// WithMaxProducts caps products requested per page.
func WithMaxProducts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxProducts = n
		}
	}
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(manager *jobs.Manager, raster *rasterize.Rasterizer, fetcher *rasterize.Fetcher, orchestrator *pipeline.Orchestrator, normalizer *normalize.Normalizer, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		manager:      manager,
		raster:       raster,
		fetcher:      fetcher,
		orchestrator: orchestrator,
		normalizer:   normalizer,
		log:          logger,
		pageWorkers:  2,
		pagePause:    5 * time.Second,
		maxProducts:  10,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process executes a claimed job. The job is always finalized before
// returning: completed with its product count, or failed with a message
// an operator can act on. The error return reflects what went wrong for
// the caller's log; lifecycle state is already settled.
func (p *Processor) Process(ctx context.Context, job *entity.Job) error {
	start := time.Now()
	p.log.Info("processor.start",
		"job_id", job.ID,
		"filename", job.Filename,
		"supermarket", job.SupermarketName,
		"requeued_count", job.RequeuedCount,
	)

	if err := p.manager.Progress(ctx, job.ID, jobs.ProgressAccepted, "Preparing flyer"); err != nil {
		return err
	}

	// a requeued job may have partial products from the dead attempt
	if job.RequeuedCount > 0 {
		if err := p.manager.ResetProducts(ctx, job.ID); err != nil {
			return p.fail(ctx, job.ID, "Could not reset earlier output", err)
		}
	}

	pdfPath := job.FilePath
	if job.SourceURL != "" {
		downloaded, err := p.fetcher.Download(ctx, job.SourceURL, p.raster.ScratchDir(job.ID), job.Filename)
		if err != nil {
			return p.fail(ctx, job.ID, "Could not download flyer", err)
		}
		pdfPath = downloaded
		if err := p.manager.Progress(ctx, job.ID, jobs.ProgressDownloaded, "Flyer downloaded"); err != nil {
			return err
		}
	}

	pages, err := p.raster.Pages(ctx, job.ID, pdfPath)
	if err != nil {
		switch {
		case errors.Is(err, rasterize.ErrEmptyDocument):
			return p.fail(ctx, job.ID, "Flyer has no pages", err)
		case errors.Is(err, rasterize.ErrDocumentUnreadable):
			return p.fail(ctx, job.ID, "Flyer could not be read", err)
		default:
			return p.fail(ctx, job.ID, "Page rendering failed", err)
		}
	}
	if err := p.manager.Progress(ctx, job.ID, jobs.ProgressRendered,
		fmt.Sprintf("Rendered %d pages", len(pages))); err != nil {
		return err
	}

	products, pageErrs := p.extractPages(ctx, job, pages)
	if ctx.Err() != nil {
		// the deadline is a hard boundary: the job fails now, with the
		// finalize write on an uncancelled context so it still lands
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return p.fail(ctx, job.ID, "Processing timed out", pipeline.ErrJobDeadlineExceeded)
		}
		// shutdown cancellation leaves the job for the sweeper
		return ctx.Err()
	}
	if len(products) == 0 && pageErrs == len(pages) {
		return p.fail(ctx, job.ID, "Extraction failed on every page", pipeline.ErrAllProvidersFailed)
	}

	if err := p.manager.Progress(ctx, job.ID, jobs.ProgressFinalizing, "Finalizing results"); err != nil {
		return err
	}

	// page workers finish out of order; restore reading order before dedup
	// so the kept duplicate is the first occurrence in the flyer
	sort.SliceStable(products, func(i, j int) bool { return products[i].Page < products[j].Page })
	products = normalize.Dedup(products)

	if err := p.manager.SaveProducts(ctx, products); err != nil {
		return p.fail(ctx, job.ID, "Could not persist products", err)
	}
	if err := p.manager.Complete(ctx, job.ID, len(products)); err != nil {
		return err
	}
	p.raster.Cleanup(job.ID)

	p.log.Info("processor.done",
		"job_id", job.ID,
		"pages", len(pages),
		"page_errors", pageErrs,
		"products", len(products),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// extractPages fans pages out over the worker pool. Failed pages are
// logged and skipped; the flyer's remaining pages still count. Progress
// follows completed pages across the extraction band.
func (p *Processor) extractPages(ctx context.Context, job *entity.Job, pages []string) ([]entity.Product, int) {
	var (
		mu        sync.Mutex
		all       []entity.Product
		completed int
		failed    int
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, p.pageWorkers)
	total := len(pages)

	for i, imagePath := range pages {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && p.pagePause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.pagePause):
			}
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(pageNum int, imagePath string) {
			defer wg.Done()
			defer func() { <-sem }()

			res := p.extractOne(ctx, job, pageNum, imagePath)

			mu.Lock()
			completed++
			done := completed
			if res.err != nil {
				failed++
			} else {
				all = append(all, res.products...)
			}
			mu.Unlock()

			if ctx.Err() == nil {
				msg := fmt.Sprintf("Extracted page %d of %d", done, total)
				if err := p.manager.Progress(ctx, job.ID, jobs.PageProgress(done, total), msg); err != nil {
					p.log.Warn("processor.progress_error", "job_id", job.ID, "error", err)
				}
			}
		}(i+1, imagePath)
	}
	wg.Wait()
	return all, failed
}

type pageOutcome struct {
	products []entity.Product
	err      error
}

func (p *Processor) extractOne(ctx context.Context, job *entity.Job, pageNum int, imagePath string) pageOutcome {
	req := provider.Request{
		SupermarketName: job.SupermarketName,
		Page:            pageNum,
		MaxProducts:     p.maxProducts,
	}
	raw, err := p.orchestrator.ExtractPage(ctx, imagePath, req)
	if err != nil {
		p.log.Error("processor.page_failed",
			"job_id", job.ID,
			"page", pageNum,
			"error", err,
		)
		return pageOutcome{err: err}
	}
	return pageOutcome{products: p.normalizer.Page(raw, job.ID, pageNum, imagePath)}
}

// fail finalizes the job as failed and returns the underlying error
// annotated with the operator message. The finalize write runs on an
// uncancelled context so a blown job deadline cannot also lose the
// status update; a daemon shutdown instead leaves the job in processing
// for the sweeper.
func (p *Processor) fail(ctx context.Context, jobID, message string, cause error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", message, cause)
	}
	ctx = context.WithoutCancel(ctx)
	if err := p.manager.Fail(ctx, jobID, message); err != nil {
		p.log.Error("processor.fail_error", "job_id", jobID, "error", err)
	}
	p.raster.Cleanup(jobID)
	return fmt.Errorf("%s: %w", message, cause)
}
