package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/entity"
)

// ProductRepository persists extracted products.
type ProductRepository interface {
	CreateBatch(ctx context.Context, products []entity.Product) error
	ListByJob(ctx context.Context, jobID string) ([]entity.Product, error)
	DeleteByJob(ctx context.Context, jobID string) (int64, error)
	CountByJob(ctx context.Context, jobID string) (int, error)
}

type productRepo struct {
	s *Store
}

// NewProductRepository builds the SQL-backed product repository.
func NewProductRepository(s *Store) ProductRepository {
	return &productRepo{s: s}
}

// CreateBatch inserts a job's products in one multi-row statement.
func (r *productRepo) CreateBatch(ctx context.Context, products []entity.Product) error {
	if len(products) == 0 {
		return nil
	}
	ib := r.s.SB.Insert("products").
		Columns("job_id", "name", "price", "original_price", "discount_pct",
			"quantity", "brand", "category", "confidence", "page", "image_ref", "extracted_at")
	for _, p := range products {
		ib = ib.Values(p.JobID, p.Name, p.Price, p.OriginalPrice, p.DiscountPct,
			p.Quantity, p.Brand, p.Category, p.Confidence, p.Page, p.ImageRef, p.ExtractedAt)
	}
	query, args, err := ib.ToSql()
	if err != nil {
		return fmt.Errorf("building product insert: %w", err)
	}
	return r.s.withRetry(ctx, "product.create_batch", func(ctx context.Context) error {
		_, execErr := r.s.DB.ExecContext(ctx, query, args...)
		if execErr != nil {
			return common.WrapError(execErr, "inserting products")
		}
		return nil
	})
}

func (r *productRepo) ListByJob(ctx context.Context, jobID string) ([]entity.Product, error) {
	query, args, err := r.s.SB.Select(
		"id", "job_id", "name", "price", "original_price", "discount_pct",
		"quantity", "brand", "category", "confidence", "page", "image_ref", "extracted_at").
		From("products").
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("page", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building product select: %w", err)
	}

	var products []entity.Product
	err = r.s.withRetry(ctx, "product.list", func(ctx context.Context) error {
		rows, qErr := r.s.DB.QueryContext(ctx, query, args...)
		if qErr != nil {
			return common.WrapError(qErr, "querying products")
		}
		defer rows.Close()
		products = products[:0]
		for rows.Next() {
			var p entity.Product
			if sErr := rows.Scan(
				&p.ID, &p.JobID, &p.Name, &p.Price, &p.OriginalPrice, &p.DiscountPct,
				&p.Quantity, &p.Brand, &p.Category, &p.Confidence, &p.Page, &p.ImageRef, &p.ExtractedAt,
			); sErr != nil {
				return sErr
			}
			products = append(products, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// DeleteByJob clears a job's products. Used before re-running a requeued
// job so page retries never double-insert.
func (r *productRepo) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	query, args, err := r.s.SB.Delete("products").
		Where(sq.Eq{"job_id": jobID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building product delete: %w", err)
	}
	var n int64
	err = r.s.withRetry(ctx, "product.delete_by_job", func(ctx context.Context) error {
		res, execErr := r.s.DB.ExecContext(ctx, query, args...)
		if execErr != nil {
			return common.WrapError(execErr, "deleting products")
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func (r *productRepo) CountByJob(ctx context.Context, jobID string) (int, error) {
	query, args, err := r.s.SB.Select("COUNT(*)").
		From("products").
		Where(sq.Eq{"job_id": jobID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building product count: %w", err)
	}
	var n int
	err = r.s.withRetry(ctx, "product.count", func(ctx context.Context) error {
		return r.s.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	return n, err
}
