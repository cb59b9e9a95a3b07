package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/volantino-labs/flyer-extractor/constants"
	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/entity"
	"github.com/volantino-labs/flyer-extractor/internal/repository"
)

// Progress milestones for the extraction pipeline. Page extraction owns
// the band between PageBandStart and PageBandEnd; everything before is
// setup, everything after is finalization.
const (
	ProgressAccepted   = 5
	ProgressDownloaded = 20
	ProgressRendered   = 40
	PageBandStart      = 55
	PageBandEnd        = 90
	ProgressFinalizing = 95
	ProgressDone       = 100
)

// PageProgress maps completed pages onto the extraction band. total of
// zero pins the start of the band.
func PageProgress(completed, total int) int {
	if total <= 0 {
		return PageBandStart
	}
	return PageBandStart + completed*(PageBandEnd-PageBandStart)/total
}

// EnqueueParams describes a flyer to process. Exactly one of FilePath and
// SourceURL must be set.
type EnqueueParams struct {
	Filename        string
	FilePath        string
	SourceURL       string
	SupermarketName string
}

// Manager owns job lifecycle writes. Everything that changes a job's
// status or progress funnels through it.
type Manager struct {
	jobs         repository.JobRepository
	products     repository.ProductRepository
	supermarkets repository.SupermarketRepository
	log          *slog.Logger
}

// NewManager builds a Manager over the repositories.
func NewManager(jobs repository.JobRepository, products repository.ProductRepository, supermarkets repository.SupermarketRepository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{jobs: jobs, products: products, supermarkets: supermarkets, log: logger}
}

// Enqueue validates params, registers the supermarket, and creates the
// job in queued state.
func (m *Manager) Enqueue(ctx context.Context, p EnqueueParams) (*entity.Job, error) {
	hasFile := strings.TrimSpace(p.FilePath) != ""
	hasURL := strings.TrimSpace(p.SourceURL) != ""
	if hasFile == hasURL {
		return nil, common.NewAppError("INVALID_JOB", "exactly one of file path and source url required", common.ErrInvalidInput)
	}
	if p.SupermarketName != "" {
		if _, err := m.supermarkets.GetOrCreate(ctx, p.SupermarketName); err != nil {
			return nil, err
		}
	}

	job := &entity.Job{
		ID:              uuid.New().String(),
		Filename:        p.Filename,
		FilePath:        p.FilePath,
		SourceURL:       p.SourceURL,
		SupermarketName: p.SupermarketName,
		Status:          constants.JobQueued,
		Message:         "Queued",
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	m.log.Info("jobs.enqueued",
		"job_id", job.ID,
		"filename", job.Filename,
		"supermarket", job.SupermarketName,
		"from_url", hasURL,
	)
	return job, nil
}

// Claim hands the oldest queued job to a worker, or nil when the queue is
// empty.
func (m *Manager) Claim(ctx context.Context) (*entity.Job, error) {
	return m.jobs.ClaimNextQueued(ctx)
}

// Progress advances a processing job's progress and message.
func (m *Manager) Progress(ctx context.Context, jobID string, progress int, message string) error {
	return m.jobs.SetProgress(ctx, jobID, progress, message)
}

// Complete finalizes a successful job with its product count.
func (m *Manager) Complete(ctx context.Context, jobID string, totalProducts int) error {
	err := m.jobs.Finalize(ctx, jobID, constants.JobCompleted, "Extraction completed", totalProducts)
	if err != nil {
		return err
	}
	m.log.Info("jobs.completed", "job_id", jobID, "products", totalProducts)
	return nil
}

// Fail finalizes a job as failed with an operator-readable message.
func (m *Manager) Fail(ctx context.Context, jobID, message string) error {
	err := m.jobs.Finalize(ctx, jobID, constants.JobFailed, message, 0)
	if err != nil {
		return err
	}
	m.log.Warn("jobs.failed", "job_id", jobID, "message", message)
	return nil
}

// ResetProducts clears a requeued job's earlier partial output so a
// retry starts from a clean slate.
func (m *Manager) ResetProducts(ctx context.Context, jobID string) error {
	n, err := m.products.DeleteByJob(ctx, jobID)
	if err != nil {
		return err
	}
	if n > 0 {
		m.log.Info("jobs.products_reset", "job_id", jobID, "deleted", n)
	}
	return nil
}

// SaveProducts persists a page's normalized products.
func (m *Manager) SaveProducts(ctx context.Context, products []entity.Product) error {
	return m.products.CreateBatch(ctx, products)
}

// Get returns a job by id.
func (m *Manager) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	return m.jobs.Get(ctx, jobID)
}

// Products returns a job's persisted products in page order.
func (m *Manager) Products(ctx context.Context, jobID string) ([]entity.Product, error) {
	return m.products.ListByJob(ctx, jobID)
}

// Recent lists the latest jobs for status display.
func (m *Manager) Recent(ctx context.Context, limit int) ([]*entity.Job, error) {
	return m.jobs.Recent(ctx, limit)
}

// Stats returns job counts by status.
func (m *Manager) Stats(ctx context.Context) (map[constants.JobStatus]int, error) {
	return m.jobs.Stats(ctx)
}
