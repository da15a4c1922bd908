// Package slug derives URL-safe conversation slugs and allocates them
// against a shared namespace.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Fallback is used when seed text slugifies to nothing.
	Fallback = "conversation"
	// MaxLength caps the base slug before any collision suffix is added.
	MaxLength = 60
	// seedWordLimit is how many words ExtractSeed keeps when no sentence ends.
	seedWordLimit = 10
)

var (
	disallowed     = regexp.MustCompile(`[^\w\s-]`)
	separatorRuns  = regexp.MustCompile(`[\s_-]+`)
	edgeHyphens    = regexp.MustCompile(`^-+|-+$`)
	firstSentence  = regexp.MustCompile(`^[^.!?]+[.!?]`)
	combiningMarks = runes.In(unicode.Mn)
)

// Slugify lower-cases text and reduces it to ASCII word characters joined by
// single hyphens. Accented Latin letters are folded to their base letter;
// anything else outside [A-Za-z0-9_] is dropped. The result may be empty.
func Slugify(text string) string {
	folded := foldASCII(text)
	s := strings.TrimSpace(strings.ToLower(folded))
	s = disallowed.ReplaceAllString(s, "")
	s = separatorRuns.ReplaceAllString(s, "-")
	return edgeHyphens.ReplaceAllString(s, "")
}

// ExtractSeed returns the first sentence of text including its terminator,
// or the first ten words when no sentence terminator follows leading text.
func ExtractSeed(text string) string {
	if match := firstSentence.FindString(text); match != "" {
		return strings.TrimSpace(match)
	}
	words := strings.Fields(text)
	if len(words) > seedWordLimit {
		words = words[:seedWordLimit]
	}
	return strings.Join(words, " ")
}

// Base returns the collision-free starting point for seed: its slug, the
// fallback when that is empty, cut to MaxLength characters.
func Base(seed string) string {
	base := Slugify(seed)
	if base == "" {
		base = Fallback
	}
	if len(base) > MaxLength {
		base = base[:MaxLength]
	}
	return base
}

func foldASCII(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(combiningMarks), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}
