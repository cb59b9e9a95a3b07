package jobs

import (
	"database/sql"
	"testing"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

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

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testDDL); err != nil {
		t.Fatalf("applying test schema: %v", err)
	}
	return repository.NewStore(db, sq.Question, nil)
}

func newTestManager(t *testing.T) (*Manager, *repository.Store) {
	t.Helper()
	store := newTestStore(t)
	m := NewManager(
		repository.NewJobRepository(store),
		repository.NewProductRepository(store),
		repository.NewSupermarketRepository(store),
		nil,
	)
	return m, store
}
