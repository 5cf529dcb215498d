package utils

import (
	"net/url"
	"strings"
)

// UriToPath converts a "file://" URI into a filesystem path. Anything else
// comes back unchanged.
func UriToPath(u string) string {
	if !strings.HasPrefix(u, "file://") {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Path == "" {
		return strings.TrimPrefix(u, "file://")
	}
	return parsed.Path
}

// PathToURI converts a filesystem path into a "file://" URI.
func PathToURI(p string) string {
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}
