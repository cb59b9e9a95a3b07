package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/entity"
)

// SupermarketRepository manages the chain catalog.
type SupermarketRepository interface {
	GetOrCreate(ctx context.Context, name string) (*entity.Supermarket, error)
	List(ctx context.Context) ([]entity.Supermarket, error)
}

type supermarketRepo struct {
	s *Store
}

// NewSupermarketRepository builds the SQL-backed supermarket repository.
func NewSupermarketRepository(s *Store) SupermarketRepository {
	return &supermarketRepo{s: s}
}

// GetOrCreate looks up a chain by trimmed name, inserting it when absent.
// The name unique constraint handles the race between concurrent jobs for
// the same new chain; the loser of the insert re-reads.
func (r *supermarketRepo) GetOrCreate(ctx context.Context, name string) (*entity.Supermarket, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, common.NewAppError("INVALID_SUPERMARKET", "empty name", common.ErrInvalidInput)
	}

	if sm, err := r.get(ctx, name); err == nil {
		return sm, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	query, args, err := r.s.SB.Insert("supermarkets").
		Columns("name", "created_at").
		Values(name, time.Now().UTC()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building supermarket insert: %w", err)
	}
	insErr := r.s.withRetry(ctx, "supermarket.create", func(ctx context.Context) error {
		_, execErr := r.s.DB.ExecContext(ctx, query, args...)
		return execErr
	})
	// duplicate insert means someone else created it between our read and
	// write, fall through to the re-read either way
	sm, getErr := r.get(ctx, name)
	if getErr != nil {
		if insErr != nil {
			return nil, common.WrapError(insErr, "inserting supermarket")
		}
		return nil, getErr
	}
	return sm, nil
}

func (r *supermarketRepo) get(ctx context.Context, name string) (*entity.Supermarket, error) {
	query, args, err := r.s.SB.Select("id", "name", "created_at").
		From("supermarkets").
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building supermarket select: %w", err)
	}
	var sm entity.Supermarket
	err = r.s.withRetry(ctx, "supermarket.get", func(ctx context.Context) error {
		return r.s.DB.QueryRowContext(ctx, query, args...).Scan(&sm.ID, &sm.Name, &sm.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

func (r *supermarketRepo) List(ctx context.Context) ([]entity.Supermarket, error) {
	query, args, err := r.s.SB.Select("id", "name", "created_at").
		From("supermarkets").
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building supermarket list: %w", err)
	}
	var out []entity.Supermarket
	err = r.s.withRetry(ctx, "supermarket.list", func(ctx context.Context) error {
		rows, qErr := r.s.DB.QueryContext(ctx, query, args...)
		if qErr != nil {
			return common.WrapError(qErr, "querying supermarkets")
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var sm entity.Supermarket
			if sErr := rows.Scan(&sm.ID, &sm.Name, &sm.CreatedAt); sErr != nil {
				return sErr
			}
			out = append(out, sm)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
