// Package match compiles URL match patterns into matcher functions. A
// pattern is an origin plus a path glob, e.g. "https://example.com/videos/*".
// "*" matches any run of characters within its segment; a scheme of "*://"
// matches http and https.
package match

import (
	"net/url"
	"strings"

	"github.com/PEZ/epupp/schema"
)

// Matcher evaluates navigation URLs against a compiled pattern.
type Matcher struct {
	scheme string
	host   string
	path   string
}

// Compile parses a match pattern. An empty pattern is invalid; scripts
// without a pattern are manual-only and never reach the matcher.
func Compile(pattern string) (*Matcher, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil, schema.ErrInvalidPattern
	}
	scheme := "*"
	rest := trimmed
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		scheme = trimmed[:idx]
		rest = trimmed[idx+3:]
	}
	if scheme != "*" && scheme != "http" && scheme != "https" {
		return nil, schema.ErrInvalidPattern
	}
	host := rest
	path := "/*"
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		host = rest[:idx]
		path = rest[idx:]
	}
	if host == "" {
		return nil, schema.ErrInvalidPattern
	}
	return &Matcher{scheme: scheme, host: strings.ToLower(host), path: path}, nil
}

// Match reports whether the navigated URL satisfies the pattern.
func (m *Matcher) Match(navigated string) bool {
	u, err := url.Parse(navigated)
	if err != nil || u.Host == "" {
		return false
	}
	if m.scheme != "*" && u.Scheme != m.scheme {
		return false
	}
	if m.scheme == "*" && u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !hostMatch(m.host, strings.ToLower(u.Hostname())) {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return globMatch(m.path, path)
}

// Matches reports whether any of the navigated URL's script candidates
// apply; a nil matcher (manual-only script) never matches.
func Matches(pattern, navigated string) bool {
	m, err := Compile(pattern)
	if err != nil {
		return false
	}
	return m.Match(navigated)
}

// hostMatch supports a leading "*." wildcard covering the bare domain and
// any subdomain.
func hostMatch(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == rest || strings.HasSuffix(host, "."+rest)
	}
	return host == pattern
}

// globMatch matches "*" against any run of characters, anchored at both ends.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	last := parts[len(parts)-1]
	return last == "" || strings.HasSuffix(s, last)
}
