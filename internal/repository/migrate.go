package repository

import (
	"context"
	"fmt"
)

// migrations are applied in order on startup when auto-migration is on.
// Statements are idempotent; there is no down path.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS supermarkets (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		filename         TEXT NOT NULL DEFAULT '',
		file_path        TEXT NOT NULL DEFAULT '',
		source_url       TEXT NOT NULL DEFAULT '',
		supermarket_name TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'queued',
		progress         INTEGER NOT NULL DEFAULT 0,
		message          TEXT NOT NULL DEFAULT '',
		requeued_count   INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at       TIMESTAMPTZ,
		completed_at     TIMESTAMPTZ,
		processing_time  DOUBLE PRECISION,
		total_products   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS products (
		id             BIGSERIAL PRIMARY KEY,
		job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		name           TEXT NOT NULL,
		price          DOUBLE PRECISION,
		original_price DOUBLE PRECISION,
		discount_pct   DOUBLE PRECISION,
		quantity       TEXT NOT NULL DEFAULT '',
		brand          TEXT NOT NULL DEFAULT '',
		category       TEXT NOT NULL DEFAULT '',
		confidence     DOUBLE PRECISION NOT NULL DEFAULT 0.95,
		page           INTEGER NOT NULL DEFAULT 0,
		image_ref      TEXT NOT NULL DEFAULT '',
		extracted_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_job ON products (job_id)`,
}

// Migrate applies the schema. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.log.Info("db.migrated", "statements", len(migrations))
	return nil
}
