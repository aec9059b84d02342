// Package names normalizes municipality names so independently spelled sources can be joined.
package names

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	footnoteRe   = regexp.MustCompile(`\[[^\]]*\]`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
)

// Normalize standardizes a place name for matching by:
//  1. Removing footnote markers such as "[1]" or "[nota 2]"
//  2. Decomposing (NFKD) and dropping combining marks, so "Abaíra" becomes "Abaira"
//  3. Converting to lowercase
//  4. Collapsing runs of whitespace into a single space and trimming
//
// Hyphens and apostrophes are kept: "Dias d'Ávila" and "Dias d Avila" are different keys.
func Normalize(name string) string {
	name = footnoteRe.ReplaceAllString(name, "")
	name = foldDiacritics(name)
	name = strings.ToLower(name)
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Contains reports whether the normalized form of s contains the normalized hint.
// Used to locate table columns by header text.
func Contains(s, hint string) bool {
	return strings.Contains(Normalize(s), Normalize(hint))
}
