package normalize

import (
	"strings"

	"github.com/volantino-labs/flyer-extractor/constants"
)

// Category resolves a product to a known category. Provider-supplied
// categories are kept when they are already canonical; otherwise the hint
// table and keyword/brand scoring decide. Food-looking products with no
// clear winner fall back to groceries, everything else to the generic
// bucket.
func CategoryFor(rawCategory, productName, brand string, cat *Catalog) string {
	raw := strings.ToLower(strings.TrimSpace(rawCategory))
	for _, c := range cat.Categories {
		if raw == c.Name {
			return c.Name
		}
	}
	for hint, target := range cat.CategoryHints {
		if strings.Contains(raw, hint) {
			return target
		}
	}

	name := strings.ToLower(productName)
	best, bestScore := "", 0.0
	for _, c := range cat.Categories {
		score := scoreCategory(name, brand, c)
		if score > bestScore {
			best, bestScore = c.Name, score
		}
	}
	if bestScore >= 3 {
		return best
	}
	if raw != "" && looksLikeFood(raw) {
		return constants.CategoryGroceries
	}
	return constants.CategoryOther
}

// scoreCategory weights keyword hits by length, with a bonus when the
// product name starts with the keyword. Brand membership counts at a
// lower weight since brands span categories.
func scoreCategory(name, brand string, c Category) float64 {
	var score float64
	for _, kw := range c.Keywords {
		if !strings.Contains(name, kw) {
			continue
		}
		score += float64(len(kw)) * 2
		if strings.HasPrefix(name, kw) {
			score += 5
		}
	}
	for _, b := range c.Brands {
		if strings.EqualFold(b, brand) {
			score += float64(len(b)) * 1.5
		}
	}
	return score
}

var foodHints = []string{"aliment", "food", "gastronom", "drogheria", "dispensa"}

func looksLikeFood(raw string) bool {
	for _, h := range foodHints {
		if strings.Contains(raw, h) {
			return true
		}
	}
	return false
}
