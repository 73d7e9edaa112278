package urlutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// IsSameDomain checks if targetURL belongs to the same domain as baseHost.
// Subdomains are considered same-domain (e.g., blog.example.com matches example.com).
func IsSameDomain(targetURL string, baseHost string) bool {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	baseHost = strings.ToLower(baseHost)
	return host == baseHost || strings.HasSuffix(host, "."+baseHost)
}

// IsHTTPScheme returns true if the URL has an http or https scheme.
func IsHTTPScheme(rawURL string) bool {
	return hasScheme(rawURL, "http", "https")
}

// IsTestable reports whether a browser can be pointed at rawURL: an
// absolute http(s) URL with a host, or a file URL.
func IsTestable(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return parsed.Host != ""
	case "file":
		return parsed.Path != ""
	}
	return false
}

func hasScheme(rawURL string, schemes ...string) bool {
	if rawURL == "" {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	for _, s := range schemes {
		if scheme == s {
			return true
		}
	}
	return false
}

// ResolveReference resolves a possibly-relative ref URL against base.
// Absolute refs are returned as-is.
func ResolveReference(base string, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref URL %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

var slugUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Slug turns a URL's path and query into a short name usable in site
// names, e.g. "/docs/intro?v=2" becomes "docs-intro-v-2". The root path
// is "root".
func Slug(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "page"
	}
	s := parsed.Path
	if parsed.RawQuery != "" {
		s += "-" + parsed.RawQuery
	}
	s = strings.Trim(slugUnsafe.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "root"
	}
	return strings.ToLower(s)
}
