package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/pipeline"
)

// Store bundles the database handle with the SQL builder configured for
// its dialect. Production runs on Postgres through pgx; tests swap in
// SQLite with question-mark placeholders.
type Store struct {
	DB          *sql.DB
	SB          sq.StatementBuilderType
	placeholder sq.PlaceholderFormat
	pool        *pgxpool.Pool
	retry       pipeline.Policy
	log         *slog.Logger
}

// dbRetryPolicy bounds transport-error retries on statements. Much
// tighter than the provider policy: a flapping database should surface
// fast, not stall a page worker for half a minute.
func dbRetryPolicy() pipeline.Policy {
	return pipeline.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Open connects to Postgres, verifies the connection, and returns a Store.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.DialTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.DialTimeout
	}
	if cfg.StatementTimeout > 0 {
		if pcfg.ConnConfig.RuntimeParams == nil {
			pcfg.ConnConfig.RuntimeParams = map[string]string{}
		}
		pcfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	logger.Info("db.connected",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)
	return &Store{
		DB:          db,
		SB:          sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		placeholder: sq.Dollar,
		pool:        pool,
		retry:       dbRetryPolicy(),
		log:         logger,
	}, nil
}

// NewStore wraps an existing database handle. The placeholder format must
// match the handle's dialect; tests pass sq.Question for SQLite.
func NewStore(db *sql.DB, placeholder sq.PlaceholderFormat, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		DB:          db,
		SB:          sq.StatementBuilder.PlaceholderFormat(placeholder),
		placeholder: placeholder,
		retry:       dbRetryPolicy(),
		log:         logger,
	}
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.DB.PingContext(ctx)
}

// Reset tears down pooled connections so the next query dials fresh.
// Used after transport-level failures.
func (s *Store) Reset() {
	if s.pool != nil {
		s.pool.Reset()
	}
}

// Close releases the database handle and its pool.
func (s *Store) Close() error {
	err := s.DB.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
