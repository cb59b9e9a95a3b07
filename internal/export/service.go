package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/volantino-labs/flyer-extractor/internal/repository"
)

// Service is a tiny façade over repositories that produces XLSX bytes
// for a job's extracted products.
type Service struct {
	jobs     repository.JobRepository
	products repository.ProductRepository
	logger   *slog.Logger
}

func NewService(jobs repository.JobRepository, products repository.ProductRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, products: products, logger: logger}
}

// ExportProductsXLSX returns an XLSX workbook (as bytes) with every
// product extracted for the given job.
func (s *Service) ExportProductsXLSX(ctx context.Context, jobID string) ([]byte, error) {
	start := time.Now()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	products, err := s.products.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Products"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if defaultIndex, _ := f.GetSheetIndex("Sheet1"); defaultIndex != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Product",
		"Brand",
		"Category",
		"Price (EUR)",
		"Original Price (EUR)",
		"Discount %",
		"Quantity",
		"Confidence",
		"Page",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, p := range products {
		values := []interface{}{
			p.Name,
			p.Brand,
			p.Category,
			floatOrEmpty(p.Price),
			floatOrEmpty(p.OriginalPrice),
			floatOrEmpty(p.DiscountPct),
			p.Quantity,
			p.Confidence,
			p.Page,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"job_id", jobID,
		"supermarket", job.SupermarketName,
		"rows", row-2,
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func floatOrEmpty(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
