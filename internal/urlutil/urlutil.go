// Package urlutil builds the absolute links placed in emails and snapshots.
package urlutil

import (
	"net/url"
	"strings"
)

// BuildAbsolute joins base and path. An absolute path is returned as is.
func BuildAbsolute(base, path string) string {
	base = normalizeBaseURL(base)
	switch {
	case path == "":
		return base
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case strings.HasPrefix(path, "/"):
		return base + path
	default:
		return base + "/" + path
	}
}

// ShareLink returns the preview link for a note's url_token.
func ShareLink(base, urlToken string) string {
	return BuildAbsolute(base, "/n/"+url.PathEscape(urlToken))
}

// TokenLink returns base+path with a single escaped token query parameter,
// as used by verification and password reset emails.
func TokenLink(base, path, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return BuildAbsolute(base, path) + "?" + q.Encode()
}

func normalizeBaseURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}
