package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/volantino-labs/flyer-extractor/constants"
	"github.com/volantino-labs/flyer-extractor/internal/jobs"
	"github.com/volantino-labs/flyer-extractor/internal/normalize"
	"github.com/volantino-labs/flyer-extractor/internal/pipeline"
	"github.com/volantino-labs/flyer-extractor/internal/provider"
	"github.com/volantino-labs/flyer-extractor/internal/rasterize"
	"github.com/volantino-labs/flyer-extractor/internal/repository"
)

const testDDL = `
CREATE TABLE supermarkets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE jobs (
	id               TEXT PRIMARY KEY,
	filename         TEXT NOT NULL DEFAULT '',
	file_path        TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL DEFAULT '',
	supermarket_name TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'queued',
	progress         INTEGER NOT NULL DEFAULT 0,
	message          TEXT NOT NULL DEFAULT '',
	requeued_count   INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL,
	started_at       TIMESTAMP,
	completed_at     TIMESTAMP,
	processing_time  REAL,
	total_products   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE products (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	price          REAL,
	original_price REAL,
	discount_pct   REAL,
	quantity       TEXT NOT NULL DEFAULT '',
	brand          TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	confidence     REAL NOT NULL DEFAULT 0.95,
	page           INTEGER NOT NULL DEFAULT 0,
	image_ref      TEXT NOT NULL DEFAULT '',
	extracted_at   TIMESTAMP NOT NULL
);
`

// pageRunner fakes poppler with a fixed page count.
type pageRunner struct{ pages int }

func (p pageRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	if name == "pdfinfo" {
		return []byte(fmt.Sprintf("Pages: %d\n", p.pages)), nil, nil
	}
	prefix := args[len(args)-1]
	for i := 1; i <= p.pages; i++ {
		if err := writeFile(fmt.Sprintf("%s-%d.png", prefix, i)); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

// scriptedProvider answers per page: page 1 succeeds immediately, page 2
// is rate limited on its first call.
type scriptedProvider struct {
	mu        sync.Mutex
	page2Hits int
	keysUsed  []string
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Extract(_ context.Context, imagePath string, key string, req provider.Request) ([]provider.RawProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysUsed = append(s.keysUsed, key)

	if strings.HasSuffix(imagePath, "-2.png") {
		s.page2Hits++
		if s.page2Hits == 1 {
			return nil, provider.NewFailure(provider.RateLimited, s.Name(), fmt.Errorf("429"))
		}
		return []provider.RawProduct{
			// same item as page 1 at a worse price, plus one new product
			{Name: "Pasta di semola", Brand: "barilla", Price: "0,99", Quantity: "500 gr"},
			{Name: "Latte intero", Brand: "granarolo", Price: "1,19", Quantity: "1lt"},
		}, nil
	}
	return []provider.RawProduct{
		{Name: "Pasta di semola", Brand: "barilla", Price: "0,89", OriginalPrice: "1,29", Quantity: "500 gr"},
	}, nil
}

func newPipelineTestEnv(t *testing.T, client provider.Client, keys []string) (*jobs.Manager, *Processor) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testDDL); err != nil {
		t.Fatal(err)
	}
	store := repository.NewStore(db, sq.Question, nil)

	manager := jobs.NewManager(
		repository.NewJobRepository(store),
		repository.NewProductRepository(store),
		repository.NewSupermarketRepository(store),
		nil,
	)
	normalizer, err := normalize.New()
	if err != nil {
		t.Fatal(err)
	}
	orch, err := pipeline.NewOrchestrator([]pipeline.Endpoint{{
		Client: client,
		Keys:   provider.NewKeyPool(keys, time.Minute),
	}}, pipeline.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	raster := rasterize.New(rasterize.Config{ScratchRoot: t.TempDir()}, pageRunner{pages: 2}, nil)
	proc := NewProcessor(manager, raster, rasterize.NewFetcher(time.Second), orch, normalizer, nil,
		WithPageWorkers(2),
		WithPagePause(0),
	)
	return manager, proc
}

func TestProcessEndToEnd(t *testing.T) {
	ctx := context.Background()
	client := &scriptedProvider{}
	manager, proc := newPipelineTestEnv(t, client, []string{"key1", "key2"})

	pdf := writeTempPDF(t)
	job, err := manager.Enqueue(ctx, jobs.EnqueueParams{
		Filename:        "volantino.pdf",
		FilePath:        pdf,
		SupermarketName: "Esselunga",
	})
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := manager.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v %v", claimed, err)
	}

	if err := proc.Process(ctx, claimed); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, err := manager.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != constants.JobCompleted {
		t.Fatalf("status = %s (%s)", final.Status, final.Message)
	}
	if final.Progress != 100 {
		t.Errorf("progress = %d, want 100", final.Progress)
	}
	if final.TotalProducts != 2 {
		t.Errorf("total products = %d, want 2 after dedup", final.TotalProducts)
	}
	if final.CompletedAt == nil || final.ProcessingTime == nil {
		t.Error("completion timestamps missing")
	}

	products, err := manager.Products(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 2 {
		t.Fatalf("persisted %d products, want 2", len(products))
	}
	byName := map[string]float64{}
	for _, p := range products {
		if p.Price != nil {
			byName[p.Name] = *p.Price
		}
		if p.Quantity == "500 gr" {
			t.Errorf("quantity not normalized: %+v", p)
		}
		if p.Brand != "Barilla" && p.Brand != "Granarolo" {
			t.Errorf("brand not resolved: %+v", p)
		}
		if p.Confidence != 0.95 {
			t.Errorf("default confidence not applied: %+v", p)
		}
	}
	if byName["Pasta di semola"] != 0.89 {
		t.Errorf("dedup kept wrong price: %v", byName)
	}

	// page 2 was rate limited once, so a second credential must appear
	seen := map[string]bool{}
	for _, k := range client.keysUsed {
		seen[k] = true
	}
	if len(seen) < 2 {
		t.Errorf("no credential rotation, keys used: %v", client.keysUsed)
	}
}

// hangingProvider never answers; it blocks until the context dies.
type hangingProvider struct{}

func (hangingProvider) Name() string { return "hanging" }

func (hangingProvider) Extract(ctx context.Context, _ string, _ string, _ provider.Request) ([]provider.RawProduct, error) {
	<-ctx.Done()
	return nil, provider.NewFailure(provider.Transient, "hanging", ctx.Err())
}

func TestProcessDeadlineFailsJob(t *testing.T) {
	manager, proc := newPipelineTestEnv(t, hangingProvider{}, []string{"key1"})

	job, err := manager.Enqueue(context.Background(), jobs.EnqueueParams{
		Filename: "volantino.pdf",
		FilePath: writeTempPDF(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := manager.Claim(context.Background())
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v %v", claimed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = proc.Process(ctx, claimed)
	if !errors.Is(err, pipeline.ErrJobDeadlineExceeded) {
		t.Fatalf("want ErrJobDeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("deadline not enforced promptly, took %v", elapsed)
	}

	final, err := manager.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != constants.JobFailed {
		t.Fatalf("status = %s, want failed after deadline", final.Status)
	}
	if final.Message != "Processing timed out" {
		t.Errorf("message = %q", final.Message)
	}
	if final.CompletedAt == nil {
		t.Error("deadline failure must stamp completed_at")
	}
}

func TestProcessUnreadableFlyer(t *testing.T) {
	ctx := context.Background()
	manager, proc := newPipelineTestEnv(t, &scriptedProvider{}, []string{"key1"})

	job, err := manager.Enqueue(ctx, jobs.EnqueueParams{Filename: "x.pdf", FilePath: "/missing/x.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := manager.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v %v", claimed, err)
	}

	if err := proc.Process(ctx, claimed); err == nil {
		t.Fatal("expected an error for an unreadable flyer")
	}
	final, err := manager.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != constants.JobFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.Message == "" {
		t.Error("failed job needs an operator message")
	}
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("png"), 0o644)
}

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volantino.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
