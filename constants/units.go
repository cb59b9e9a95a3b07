package constants

// Canonical quantity units a normalized product may carry.
// Anything else coming out of a provider is a synonym or an OCR misread
// and gets mapped onto one of these.
const (
	UnitGram       = "g"
	UnitKilogram   = "kg"
	UnitMilliliter = "ml"
	UnitLiter      = "l"
	UnitPiece      = "pz"
)

var CanonicalUnits = []string{UnitGram, UnitKilogram, UnitMilliliter, UnitLiter, UnitPiece}

// IsCanonicalUnit reports whether u belongs to the canonical unit set.
func IsCanonicalUnit(u string) bool {
	for _, c := range CanonicalUnits {
		if u == c {
			return true
		}
	}
	return false
}

// Category fallback buckets. Products that plausibly look like food but
// score below the classifier threshold land in CategoryGroceries; everything
// else lands in CategoryOther.
const (
	CategoryGroceries = "alimentari"
	CategoryOther     = "altro"
)
