// Package tokens provides heuristic token estimation for payload sizing
// and cost estimation when an adapter does not report usage.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// CharsPerToken is the approximate character-to-token ratio for English
// text across GPT/Claude-style tokenizers.
const CharsPerToken = 4.0

// Estimate approximates the token count of text. It blends a word count
// with a rune/4 estimate, which tracks real tokenizers better than either
// alone on mixed prose and code.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	runes := utf8.RuneCountInString(text)
	return (words + int(float64(runes)/CharsPerToken)) / 2
}

// FitsInLimit reports whether text fits within a token limit.
func FitsInLimit(text string, limit int) bool {
	return Estimate(text) <= limit
}
