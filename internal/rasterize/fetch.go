package rasterize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrSourceUnreachable means the flyer could not be downloaded from its
// source URL.
var ErrSourceUnreachable = errors.New("flyer source unreachable")

// Fetcher downloads remote flyers into the job's scratch directory.
type Fetcher struct {
	http *http.Client
}

// NewFetcher builds a Fetcher with the given download timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{http: &http.Client{Timeout: timeout}}
}

// Download fetches url into dir and returns the local path. The body is
// streamed to disk; flyers run to tens of megabytes.
func (f *Fetcher) Download(ctx context.Context, url, dir, filename string) (string, error) {
	if filename == "" {
		filename = "flyer.pdf"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: status %d", ErrSourceUnreachable, resp.StatusCode)
	}

	dst := filepath.Join(dir, filename)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing download file: %w", err)
	}
	return dst, nil
}
