package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SearchKey normalizes free text for matching: accents are stripped, case is
// folded, and every run of non-alphanumeric characters becomes one space.
// "Jalapeño  PEPPERS, diced" -> "jalapeno peppers diced".
func SearchKey(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// MatchText reports how a normalized alias relates to a normalized
// description: exact match, a run of whole words inside it, or none.
// "salt" matches "kosher salt" but not "butter unsalted".
func MatchText(descriptionKey, aliasKey string) MatchKind {
	if aliasKey == "" || descriptionKey == "" {
		return MatchNone
	}
	if descriptionKey == aliasKey {
		return MatchExact
	}
	if strings.Contains(PadKey(descriptionKey), PadKey(aliasKey)) {
		return MatchSubstring
	}
	return MatchNone
}

// PadKey wraps a search key in single spaces so a containment test only
// matches on word boundaries.
func PadKey(key string) string {
	return " " + key + " "
}

// MatchKind grades a text match.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchSubstring
	MatchExact
)
