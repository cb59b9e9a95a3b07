package rasterize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrDocumentUnreadable means the PDF could not be opened or rendered.
	ErrDocumentUnreadable = errors.New("document unreadable")
	// ErrEmptyDocument means the PDF rendered to zero pages.
	ErrEmptyDocument = errors.New("document has no pages")
)

// Config holds rendering parameters.
type Config struct {
	Pdftoppm    string
	Pdfinfo     string
	DPI         int
	MaxPages    int // 0 means all pages
	ScratchRoot string
}

// Rasterizer renders PDF flyers to page images via poppler, one scratch
// directory per job.
type Rasterizer struct {
	cfg Config
	run Runner
	log *slog.Logger
}

// New builds a Rasterizer. Pass nil runner to execute real commands.
func New(cfg Config, run Runner, logger *slog.Logger) *Rasterizer {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = "."
	}
	if run == nil {
		run = execRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{cfg: cfg, run: run, log: logger}
}

// ScratchDir returns the per-job scratch directory path. The name is
// stable across retries so a requeued job can reuse already rendered
// pages.
func (r *Rasterizer) ScratchDir(jobID string) string {
	return filepath.Join(r.cfg.ScratchRoot, "temp_processing_"+jobID)
}

// Pages renders every page of the PDF at pdfPath into the job's scratch
// directory and returns the image paths in page order. If the scratch
// directory already holds rendered pages from an earlier attempt they are
// reused as-is.
func (r *Rasterizer) Pages(ctx context.Context, jobID, pdfPath string) ([]string, error) {
	dir := r.ScratchDir(jobID)
	if pages, err := collectPages(dir); err == nil && len(pages) > 0 {
		r.log.Info("rasterize.reuse_scratch", "job_id", jobID, "pages", len(pages))
		return pages, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}

	total, err := r.pageCount(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, ErrEmptyDocument
	}
	if r.cfg.MaxPages > 0 && total > r.cfg.MaxPages {
		r.log.Warn("rasterize.page_cap", "job_id", jobID, "total", total, "cap", r.cfg.MaxPages)
		total = r.cfg.MaxPages
	}

	args := []string{
		"-png",
		"-r", strconv.Itoa(r.cfg.DPI),
		"-f", "1",
		"-l", strconv.Itoa(total),
		pdfPath,
		filepath.Join(dir, "page"),
	}
	start := time.Now()
	_, stderr, err := r.run.Run(ctx, r.cfg.Pdftoppm, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pdftoppm: %v: %s", ErrDocumentUnreadable, err, truncate(string(stderr), 500))
	}

	pages, err := collectPages(dir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}
	r.log.Info("rasterize.ok",
		"job_id", jobID,
		"pages", len(pages),
		"dpi", r.cfg.DPI,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return pages, nil
}

// pageCount asks pdfinfo for the page count. A pdfinfo failure is an
// unreadable document, not a transient error.
func (r *Rasterizer) pageCount(ctx context.Context, pdfPath string) (int, error) {
	stdout, stderr, err := r.run.Run(ctx, r.cfg.Pdfinfo, pdfPath)
	if err != nil {
		return 0, fmt.Errorf("%w: pdfinfo: %v: %s", ErrDocumentUnreadable, err, truncate(string(stderr), 500))
	}
	for _, line := range strings.Split(string(stdout), "\n") {
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
		if convErr != nil {
			return 0, fmt.Errorf("%w: parsing pdfinfo pages: %v", ErrDocumentUnreadable, convErr)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: pdfinfo output has no page count", ErrDocumentUnreadable)
}

var pageFileRe = regexp.MustCompile(`^page-?(\d+)\.png$`)

// collectPages lists rendered page images sorted by page number.
// pdftoppm zero-pads file suffixes inconsistently across versions, so the
// numeric value decides the order.
func collectPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		m := pageFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pages = append(pages, page{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}

// Cleanup removes the job's scratch directory. Failures are logged, not
// returned; scratch left behind is reclaimed by RemoveStale.
func (r *Rasterizer) Cleanup(jobID string) {
	dir := r.ScratchDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		r.log.Warn("rasterize.cleanup_failed", "job_id", jobID, "dir", dir, "error", err)
		return
	}
	r.log.Debug("rasterize.cleanup", "job_id", jobID)
}

// RemoveStale deletes scratch directories older than maxAge, catching
// leftovers from crashed runs. Returns how many were removed.
func (r *Rasterizer) RemoveStale(maxAge time.Duration) int {
	entries, err := os.ReadDir(r.cfg.ScratchRoot)
	if err != nil {
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "temp_processing_") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(r.cfg.ScratchRoot, e.Name())
		if err := os.RemoveAll(path); err != nil {
			r.log.Warn("rasterize.stale_remove_failed", "dir", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		r.log.Info("rasterize.stale_removed", "count", removed)
	}
	return removed
}
