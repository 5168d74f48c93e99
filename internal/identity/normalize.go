// Package identity resolves free-text entity names (companies, skills,
// categories) to canonical store rows via approximate matching.
package identity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// Legal-form suffixes stripped from company names before matching, so
	// "Acme Sp. z o.o." and "ACME sp zoo" normalize to the same string.
	corpSuffixes = regexp.MustCompile(
		`(?i)\b(sa|sp\.? ?z\.? ?o\.? ?o\.?|llc|inc\.?|ltd\.?|gmbh|s\.?r\.?l\.?|pty|co\.?)\b`)
	punctuation = regexp.MustCompile(`[^\w\s\-]`)
	whitespace  = regexp.MustCompile(`\s+`)

	accentFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

func stripAccents(s string) string {
	out, _, err := transform.String(accentFold, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize reduces a raw name to its comparison form: accents stripped,
// punctuation collapsed to spaces, whitespace squeezed, lowercased. An empty
// result means the input carried no usable name.
func Normalize(raw string) string {
	t := stripAccents(raw)
	t = punctuation.ReplaceAllString(t, " ")
	t = whitespace.ReplaceAllString(t, " ")
	return strings.ToLower(strings.TrimSpace(t))
}

// NormalizeCompany is Normalize plus corporate-suffix removal, which only
// makes sense for company names.
func NormalizeCompany(raw string) string {
	t := stripAccents(raw)
	t = corpSuffixes.ReplaceAllString(t, "")
	t = punctuation.ReplaceAllString(t, " ")
	t = whitespace.ReplaceAllString(t, " ")
	return strings.ToLower(strings.TrimSpace(t))
}
