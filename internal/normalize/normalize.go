package normalize

import (
	"strings"
	"time"

	"github.com/volantino-labs/flyer-extractor/internal/entity"
	"github.com/volantino-labs/flyer-extractor/internal/provider"
)

// DefaultConfidence is assumed when a provider does not score its output.
const DefaultConfidence = 0.95

// Normalizer turns raw provider output into persistable products.
type Normalizer struct {
	catalog *Catalog
}

// New builds a Normalizer over the embedded catalog.
func New() (*Normalizer, error) {
	cat, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	return &Normalizer{catalog: cat}, nil
}

// Page normalizes everything a provider extracted from one page image.
// Rows with no usable name are dropped; everything else is cleaned field
// by field. Deduplication happens later at the job level, across pages.
func (n *Normalizer) Page(raw []provider.RawProduct, jobID string, page int, imageRef string) []entity.Product {
	now := time.Now().UTC()
	out := make([]entity.Product, 0, len(raw))
	for _, rp := range raw {
		name := cleanName(rp.Name)
		if name == "" {
			continue
		}
		price := Price(rp.Price)
		original := Price(rp.OriginalPrice)
		category := CategoryFor(rp.Category, name, rp.Brand, n.catalog)
		brand := Brand(rp.Brand, name, category, n.catalog)
		// brand resolution can sharpen the category, run it once more
		// with the resolved brand when the first pass fell through
		if category == "" || category == "altro" {
			if brand != "" {
				category = CategoryFor(rp.Category, name, brand, n.catalog)
			}
		}

		confidence := rp.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = DefaultConfidence
		}

		out = append(out, entity.Product{
			JobID:         jobID,
			Name:          name,
			Price:         price,
			OriginalPrice: original,
			DiscountPct:   DiscountPct(price, original),
			Quantity:      Quantity(rp.Quantity),
			Brand:         brand,
			Category:      category,
			Confidence:    confidence,
			Page:          page,
			ImageRef:      imageRef,
			ExtractedAt:   now,
		})
	}
	return out
}

// cleanName trims whitespace and collapses internal runs of spaces.
func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
