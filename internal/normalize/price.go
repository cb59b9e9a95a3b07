package normalize

import (
	"math"
	"strconv"
	"strings"
)

// placeholders providers emit when a price is not legible on the page.
var pricePlaceholders = map[string]bool{
	"non visibile":    true,
	"non disponibile": true,
	"n/a":             true,
	"n.d.":            true,
	"nd":              true,
	"-":               true,
	"":                true,
}

// Price parses a flyer price into euros. Flyers use the Italian decimal
// comma and often carry a currency marker; both are tolerated. A nil
// result means the price was absent or illegible, which is a valid state.
func Price(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if pricePlaceholders[strings.ToLower(s)] {
		return nil
	}

	s = strings.NewReplacer("€", "", "EUR", "", "eur", "", " ", "").Replace(s)
	s = strings.ReplaceAll(s, ",", ".")

	// "1.299,00" style thousands separators collapse to multiple dots;
	// keep only the last as decimal.
	if n := strings.Count(s, "."); n > 1 {
		last := strings.LastIndex(s, ".")
		s = strings.ReplaceAll(s[:last], ".", "") + s[last:]
	}

	// ParseFloat accepts "inf" and "nan"; neither is a price
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// DiscountPct derives the discount percentage from the sale and original
// price. Returns nil unless both are present and the original is higher.
func DiscountPct(price, original *float64) *float64 {
	if price == nil || original == nil || *original <= 0 || *price >= *original {
		return nil
	}
	pct := (*original - *price) / *original * 100
	pct = float64(int(pct*10+0.5)) / 10
	return &pct
}
