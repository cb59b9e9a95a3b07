package entity

import "time"

// Product is a normalized product row owned by exactly one job.
// Rows are created in bulk after a page is normalized and never mutated
// by the pipeline afterwards.
type Product struct {
	ID    int64
	JobID string

	Name          string
	Price         *float64
	OriginalPrice *float64
	DiscountPct   *float64
	Quantity      string // canonical, e.g. "500g", "1.5kg", "6x70g"
	Brand         string
	Category      string

	Confidence  float64
	Page        int
	ImageRef    string
	ExtractedAt time.Time
}
