package export

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"

	"github.com/volantino-labs/flyer-extractor/constants"
	"github.com/volantino-labs/flyer-extractor/internal/entity"
	"github.com/volantino-labs/flyer-extractor/internal/repository"
)

const testDDL = `
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

func TestExportProductsXLSX(t *testing.T) {
	ctx := context.Background()
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
	jobRepo := repository.NewJobRepository(store)
	productRepo := repository.NewProductRepository(store)

	job := &entity.Job{
		ID:              "job-1",
		Filename:        "volantino.pdf",
		SupermarketName: "Lidl",
		Status:          constants.JobCompleted,
		CreatedAt:       time.Now().UTC(),
	}
	if err := jobRepo.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	price := 0.89
	if err := productRepo.CreateBatch(ctx, []entity.Product{
		{JobID: "job-1", Name: "Pasta di semola", Brand: "Barilla", Category: "alimentari", Price: &price, Quantity: "500g", Confidence: 0.95, Page: 1, ExtractedAt: time.Now().UTC()},
		{JobID: "job-1", Name: "Latte intero", Brand: "Granarolo", Category: "freschi", Quantity: "1l", Confidence: 0.95, Page: 2, ExtractedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatal(err)
	}

	data, err := NewService(jobRepo, productRepo, nil).ExportProductsXLSX(ctx, "job-1")
	if err != nil {
		t.Fatalf("ExportProductsXLSX: %v", err)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("workbook not readable: %v", err)
	}
	t.Cleanup(func() { wb.Close() })

	rows, err := wb.GetRows("Products")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 products", len(rows))
	}
	if rows[0][0] != "Product" {
		t.Errorf("header mismatch: %v", rows[0])
	}
	if rows[1][0] != "Pasta di semola" || rows[2][0] != "Latte intero" {
		t.Errorf("product rows mismatch: %v / %v", rows[1], rows[2])
	}
	// missing price renders as an empty cell, not zero
	if len(rows[2]) > 3 && rows[2][3] == "0" {
		t.Errorf("nil price rendered as zero: %v", rows[2])
	}
}

func TestExportUnknownJob(t *testing.T) {
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

	svc := NewService(repository.NewJobRepository(store), repository.NewProductRepository(store), nil)
	if _, err := svc.ExportProductsXLSX(context.Background(), "nope"); err == nil {
		t.Fatal("want error for unknown job")
	}
}
