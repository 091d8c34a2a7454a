// Package slug derives URL-safe identifiers from free text.
package slug

import (
	"crypto/rand"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength caps derived slugs so document ids stay within store limits.
const MaxLength = 96

// foldMarks decomposes characters and strips combining marks, so accented
// letters fold to their base Latin letter ("é" -> "e").
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Derive turns free text into a lowercase, hyphen-separated slug. Characters
// outside [a-z0-9 -] are dropped after mark folding, whitespace runs collapse
// to a single hyphen, repeated hyphens collapse to one, and the result is
// truncated to MaxLength. Returns "" when nothing survives; substituting a
// fallback identifier is the caller's responsibility.
func Derive(text string) string {
	lowered := strings.ToLower(text)
	folded, _, err := transform.String(foldMarks, lowered)
	if err != nil {
		folded = lowered
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	joined := strings.Join(strings.Fields(b.String()), "-")
	for strings.Contains(joined, "--") {
		joined = strings.ReplaceAll(joined, "--", "-")
	}
	if len(joined) > MaxLength {
		joined = joined[:MaxLength]
	}
	return joined
}

const randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Random returns a random slug-safe identifier of length n, used as the
// fallback when Derive yields nothing (all-symbol titles and the like).
func Random(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(buf)
}
