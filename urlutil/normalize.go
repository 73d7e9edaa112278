// Package urlutil normalizes and classifies the URLs primal tests and
// discovers.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// Normalize returns a canonical form of rawURL so equivalent links
// deduplicate:
// - scheme and host are lowercased and default ports dropped
// - the fragment is stripped
// - an empty path becomes "/", other trailing slashes are stripped
// - the query is preserved
func Normalize(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("cannot normalize empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize URL %q: %w", rawURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("URL must have both scheme and host")
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if port := parsed.Port(); port != "" && defaultPorts[parsed.Scheme] == port {
		parsed.Host = strings.TrimSuffix(parsed.Host, ":"+port)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""

	switch {
	case parsed.Path == "":
		parsed.Path = "/"
	case parsed.Path != "/":
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	parsed.RawPath = ""

	return parsed.String(), nil
}
