package normalize

import (
	"strings"
	"unicode"
)

// Brand resolves the brand of a product against the reference catalog,
// trying progressively looser matches on the provider's brand field and
// the product name:
//
//  1. exact token match
//  2. punctuation-insensitive match
//  3. multi-word brands matching at least half their words
//  4. partial containment of a significant brand word
//  5. category shortlist lookup
//  6. edit distance as a last resort, tightly bounded
//
// The empty string means no brand could be established.
func Brand(rawBrand, productName, category string, cat *Catalog) string {
	candidates := gatherTokens(rawBrand, productName)
	if len(candidates) == 0 {
		return ""
	}

	for _, brand := range cat.Brands {
		if hasExactToken(candidates, brand) {
			return brand
		}
	}
	for _, brand := range cat.Brands {
		if hasLooseToken(candidates, brand) {
			return brand
		}
	}
	for _, brand := range cat.Brands {
		if matchesMultiWord(candidates, brand) {
			return brand
		}
	}
	for _, brand := range cat.Brands {
		if matchesPartialWord(candidates, brand) {
			return brand
		}
	}
	if b := matchCategoryShortlist(candidates, category, cat); b != "" {
		return b
	}
	return matchByEditDistance(candidates, cat.Brands)
}

// gatherTokens splits the brand field and product name into lowercase
// tokens, brand field first so its tokens win ties.
func gatherTokens(rawBrand, productName string) []string {
	var out []string
	for _, src := range []string{rawBrand, productName} {
		for _, tok := range strings.Fields(strings.ToLower(src)) {
			out = append(out, tok)
		}
	}
	return out
}

func hasExactToken(tokens []string, brand string) bool {
	b := strings.ToLower(brand)
	if strings.Contains(b, " ") {
		return false
	}
	for _, tok := range tokens {
		if tok == b {
			return true
		}
	}
	return false
}

// hasLooseToken compares with punctuation stripped, catching "coca cola"
// against "Coca-Cola" and similar.
func hasLooseToken(tokens []string, brand string) bool {
	b := stripPunct(strings.ToLower(brand))
	if b == "" {
		return false
	}
	joined := stripPunct(strings.Join(tokens, ""))
	for _, tok := range tokens {
		if stripPunct(tok) == b {
			return true
		}
	}
	return strings.Contains(joined, b) && len(b) > 3
}

// matchesMultiWord accepts a multi-word brand when at least half of its
// words appear among the tokens.
func matchesMultiWord(tokens []string, brand string) bool {
	words := strings.Fields(strings.ToLower(brand))
	if len(words) < 2 {
		return false
	}
	hits := 0
	for _, w := range words {
		for _, tok := range tokens {
			if tok == w {
				hits++
				break
			}
		}
	}
	return hits*2 >= len(words)
}

// matchesPartialWord accepts containment of a brand word longer than three
// characters inside a token, e.g. "nutellab" still resolves to Nutella.
func matchesPartialWord(tokens []string, brand string) bool {
	for _, w := range strings.Fields(strings.ToLower(brand)) {
		if len(w) <= 3 {
			continue
		}
		for _, tok := range tokens {
			if strings.Contains(tok, w) {
				return true
			}
		}
	}
	return false
}

// matchCategoryShortlist retries the exact and loose passes against only
// the brands listed for the product's category.
func matchCategoryShortlist(tokens []string, category string, cat *Catalog) string {
	for _, c := range cat.Categories {
		if c.Name != category {
			continue
		}
		for _, brand := range c.Brands {
			if hasExactToken(tokens, brand) || hasLooseToken(tokens, brand) {
				return brand
			}
		}
	}
	return ""
}

// matchByEditDistance tolerates up to two character edits, but only for
// brands longer than four characters against tokens longer than three, and
// only when the lengths are within two of each other. Short strings make
// edit distance meaningless.
func matchByEditDistance(tokens []string, brands []string) string {
	for _, brand := range brands {
		b := strings.ToLower(brand)
		if len(b) <= 4 || strings.Contains(b, " ") {
			continue
		}
		for _, tok := range tokens {
			if len(tok) <= 3 {
				continue
			}
			if abs(len(tok)-len(b)) > 2 {
				continue
			}
			if levenshtein(tok, b) <= 2 {
				return brand
			}
		}
	}
	return ""
}

func stripPunct(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
