package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/volantino-labs/flyer-extractor/constants"
)

// Vision output mangles unit tokens in predictable ways. Corrections are
// applied on the lowercased string before parsing.
var unitCorrections = []struct{ from, to string }{
	{"gr.", "g"},
	{"grammi", "g"},
	{"gr", "g"},
	{"kq", "kg"},
	{"kg.", "kg"},
	{"chilogrammi", "kg"},
	{"lt.", "l"},
	{"litri", "l"},
	{"litro", "l"},
	{"lt", "l"},
	{"mi", "ml"},
	{"cl.", "cl"},
	{"pezzi", "pz"},
	{"pezzo", "pz"},
	{"pz.", "pz"},
	{"conf.", "pz"},
	{"confezione", "pz"},
}

var (
	multipackRe = regexp.MustCompile(`^(\d+)\s*[xX×]\s*(\d+(?:[.,]\d+)?)\s*([a-z]+)$`)
	quantityRe  = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*([a-z]+)$`)
	countRe     = regexp.MustCompile(`^(\d+)$`)
)

// Quantity canonicalizes a raw quantity string: OCR unit fixes, unit
// normalization, and range-based conversion so values read naturally
// ("6000g" becomes "6.0kg", "0.5l" becomes "500ml"). Unparseable input
// passes through trimmed rather than being dropped.
func Quantity(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	for _, c := range unitCorrections {
		s = correctUnitToken(s, c.from, c.to)
	}
	s = strings.ReplaceAll(s, " ", "")

	if m := multipackRe.FindStringSubmatch(s); m != nil {
		count, _ := strconv.Atoi(m[1])
		value, unit, ok := normalizeValueUnit(m[2], m[3])
		if ok {
			return fmt.Sprintf("%dx%s", count, formatQuantity(value, unit))
		}
		return s
	}
	if m := quantityRe.FindStringSubmatch(s); m != nil {
		value, unit, ok := normalizeValueUnit(m[1], m[2])
		if ok {
			return formatQuantity(value, unit)
		}
		return s
	}
	if m := countRe.FindStringSubmatch(s); m != nil {
		return m[1] + constants.UnitPiece
	}
	return s
}

// correctUnitToken replaces from with to only where it appears as the unit
// suffix of a number, so brand text like "grana" is never touched.
func correctUnitToken(s, from, to string) string {
	re := regexp.MustCompile(`(\d(?:[.,]\d+)?)\s*` + regexp.QuoteMeta(from) + `\b`)
	return re.ReplaceAllString(s, "${1}"+to)
}

// normalizeValueUnit parses the numeric part and maps the unit onto the
// canonical set, folding centiliters into milliliters.
func normalizeValueUnit(num, unit string) (float64, string, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
	if err != nil {
		return 0, "", false
	}
	switch unit {
	case "cl":
		return v * 10, constants.UnitMilliliter, true
	case "hg":
		return v * 100, constants.UnitGram, true
	}
	if !constants.IsCanonicalUnit(unit) {
		return 0, "", false
	}
	return v, unit, true
}

// formatQuantity applies the range conversions and renders the value.
// Weights of a kilogram or more read in kg, sub-kilogram weights in grams;
// volumes follow the same rule across the ml/l boundary.
func formatQuantity(value float64, unit string) string {
	switch unit {
	case constants.UnitGram:
		if value >= 1000 {
			return fmt.Sprintf("%.1fkg", value/1000)
		}
	case constants.UnitKilogram:
		if value < 1 {
			return fmt.Sprintf("%dg", int(value*1000+0.5))
		}
	case constants.UnitMilliliter:
		if value >= 1000 {
			return fmt.Sprintf("%.1fl", value/1000)
		}
	case constants.UnitLiter:
		if value < 1 {
			return fmt.Sprintf("%dml", int(value*1000+0.5))
		}
	}
	if value == float64(int(value)) {
		return fmt.Sprintf("%d%s", int(value), unit)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".") + unit
}
