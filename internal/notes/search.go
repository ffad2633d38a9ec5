package notes

import (
	"strings"
	"unicode"
)

const labelPrefix = "label:"

// Query is a parsed search box input.
type Query struct {
	Labels []string `json:"labels"`
	Text   *string  `json:"text"`
}

// ParseQuery splits a search string into label filters and free text.
//
// Tokens are separated by whitespace outside double quotes. A token starting
// with "label:" contributes comma-separated labels, each unquoted and
// trimmed; empty pieces are dropped and repeats (compared exactly) keep
// their first position. All other tokens, unquoted, are joined with single
// spaces into Text, which is nil when nothing remains.
func ParseQuery(input string) Query {
	q := Query{Labels: []string{}}
	seen := make(map[string]struct{})
	var text []string

	for _, tok := range tokenize(input) {
		if len(tok) >= len(labelPrefix) && strings.EqualFold(tok[:len(labelPrefix)], labelPrefix) {
			for _, piece := range splitOutsideQuotes(tok[len(labelPrefix):], ',') {
				label := strings.TrimSpace(unquote(strings.TrimSpace(piece)))
				if label == "" {
					continue
				}
				if _, dup := seen[label]; dup {
					continue
				}
				seen[label] = struct{}{}
				q.Labels = append(q.Labels, label)
			}
			continue
		}
		if word := strings.TrimSpace(unquote(tok)); word != "" {
			text = append(text, word)
		}
	}

	if len(text) > 0 {
		joined := strings.Join(text, " ")
		q.Text = &joined
	}
	return q
}

// tokenize splits on whitespace outside double quotes. Quote characters are
// kept in the tokens; an unterminated quote runs to the end of input.
func tokenize(input string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	for _, r := range input {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func splitOutsideQuotes(s string, sep rune) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == sep && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

// unquote drops double quote characters. Quotes only group words, so a
// stray one is dropped as well.
func unquote(s string) string {
	return strings.ReplaceAll(s, `"`, "")
}
