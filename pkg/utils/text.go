// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	tokenRe      = regexp.MustCompile(`[a-z0-9]+`)

	asciiFolder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// NormalizeText folds a string to lowercase ASCII with single spaces:
// NFKD decomposition, combining marks stripped, non-ASCII dropped,
// whitespace collapsed. "Zürich" becomes "zurich".
func NormalizeText(s string) string {
	folded, _, err := transform.String(asciiFolder, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	out := strings.ToLower(b.String())
	out = multiSpaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// StripHTML removes markup tags and collapses whitespace.
// Search-result labels arrive wrapped in <b>/<i> highlighting.
func StripHTML(s string) string {
	out := htmlTagRe.ReplaceAllString(s, " ")
	out = multiSpaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// Tokens returns the alphanumeric runs of the normalized form of s.
func Tokens(s string) []string {
	return tokenRe.FindAllString(NormalizeText(s), -1)
}

// ContainsToken reports whether want appears as a whole token in tokens.
func ContainsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}
