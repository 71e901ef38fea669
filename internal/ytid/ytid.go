// Package ytid extracts canonical YouTube video identifiers from user input.
package ytid

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// Length of a canonical video id
const Length = 11

var idPattern = regexp.MustCompile(`[A-Za-z0-9_-]{11}`)

// pathPrefixes are URL path shapes that carry the id as the next segment
var pathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// Extract returns the video id contained in s, which may be a bare id or a URL.
// The first 11-character run of the id alphabet wins; otherwise the string is
// parsed as a URL of a recognized shape.
func Extract(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", domain.InvalidIdentifier(s)
	}

	if m := idPattern.FindString(s); m != "" {
		return m, nil
	}

	if id := fromURL(s); id != "" {
		return id, nil
	}
	return "", domain.InvalidIdentifier(s)
}

func fromURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case strings.Contains(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		for _, p := range pathPrefixes {
			if strings.HasPrefix(u.Path, p) {
				return firstSegment(strings.TrimPrefix(u.Path, p))
			}
		}
	case strings.Contains(host, "youtu.be"):
		return firstSegment(strings.TrimPrefix(u.Path, "/"))
	}
	return ""
}

func firstSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
