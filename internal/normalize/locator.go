package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeLocator resolves href against origin and canonicalizes the
// result. Absolute input keeps its own host, so applying it twice gives the
// same string.
func NormalizeLocator(origin, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", errors.New("empty locator")
	}
	base, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse locator: %w", err)
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme == "" || resolved.Host == "" {
		return "", fmt.Errorf("locator %q is not absolute", href)
	}
	return NormalizeURL(resolved.String())
}

// NormalizeURL lowercases the scheme and host, removes default ports and
// the fragment, and sorts query parameters. A query that does not parse
// cleanly, such as one using ';' separators, is kept as given.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if q, err := url.ParseQuery(u.RawQuery); err == nil {
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
