package normalize

import (
	"strings"

	"github.com/volantino-labs/flyer-extractor/internal/entity"
)

// Dedup collapses products that describe the same item. The identity key
// is (name, brand, quantity), case-insensitive; duplicates keep the lowest
// advertised price, since flyers repeat items across pages with the best
// offer appearing once. Order of first appearance is preserved.
func Dedup(products []entity.Product) []entity.Product {
	type slot struct{ idx int }
	seen := make(map[string]slot, len(products))
	out := make([]entity.Product, 0, len(products))

	for _, p := range products {
		key := strings.ToLower(p.Name) + "|" + strings.ToLower(p.Brand) + "|" + strings.ToLower(p.Quantity)
		if s, ok := seen[key]; ok {
			kept := &out[s.idx]
			if betterPrice(p.Price, kept.Price) {
				kept.Price = p.Price
				kept.OriginalPrice = p.OriginalPrice
				kept.DiscountPct = p.DiscountPct
				kept.Page = p.Page
				kept.ImageRef = p.ImageRef
			}
			continue
		}
		seen[key] = slot{idx: len(out)}
		out = append(out, p)
	}
	return out
}

// betterPrice reports whether candidate should replace current. A known
// price always beats an unknown one.
func betterPrice(candidate, current *float64) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	return *candidate < *current
}
