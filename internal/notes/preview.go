package notes

import (
	"strings"
	"unicode/utf8"
)

// ExcerptLength is the maximum excerpt length in characters, ellipsis
// included.
const ExcerptLength = 200

const ellipsis = "…"

// Excerpt trims description and, when it is longer than ExcerptLength
// characters, cuts it to ExcerptLength-1 characters followed by "…".
func Excerpt(description string) string {
	trimmed := strings.TrimSpace(description)
	if utf8.RuneCountInString(trimmed) <= ExcerptLength {
		return trimmed
	}
	cut := 0
	for i := range trimmed {
		if cut == ExcerptLength-1 {
			return trimmed[:i] + ellipsis
		}
		cut++
	}
	return trimmed
}
