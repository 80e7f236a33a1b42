// Package urlnorm normalizes URLs into the canonical form used everywhere
// else in pushl as a dedup and cache key: scheme and host lowercased,
// default ports stripped, path percent-encoding canonicalized, fragments
// removed (the fragment is returned separately for callers that need it
// for fragment-targeted mentions), query parameter order preserved.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"pushl/internal/domain/entity"
)

var defaultPort = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize rewrites rawURL into its canonical form. Calling Normalize on
// an already-normalized URL is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: url %q is not absolute", entity.ErrInvalidInput, rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if port := u.Port(); port != "" && port == defaultPort[u.Scheme] {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}

	u.RawPath = canonicalizePath(u.EscapedPath())
	u.Path, _ = url.PathUnescape(u.RawPath)
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// canonicalizePath re-encodes an escaped path so that equivalent
// percent-escapes collapse to the same representation (e.g. "%2F" in a
// segment is kept, but unreserved characters are never left escaped).
func canonicalizePath(escaped string) string {
	parts := strings.Split(strings.ReplaceAll(escaped, "%2f", "%2F"), "%2F")
	for i, part := range parts {
		decoded, err := url.PathUnescape(part)
		if err != nil {
			return escaped
		}
		parts[i] = (&url.URL{Path: decoded}).EscapedPath()
	}
	return strings.Join(parts, "%2F")
}

// Fragment extracts the fragment (without the leading '#') from a raw URL,
// for callers that need to retain it for fragment-targeted mentions even
// though Normalize strips it from the request form.
func Fragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Fragment
}

// CacheKey returns the stable hex SHA-256 hash of a normalized URL, used
// as the on-disk cache filename.
func CacheKey(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// Resolve resolves ref against base and normalizes the result. Used
// throughout the entry/feed processors to turn relative hrefs into
// absolute, normalized URLs.
func Resolve(base, ref string) (string, error) {
	target, _, err := ResolveWithFragment(base, ref)
	return target, err
}

// ResolveWithFragment resolves ref against base like Resolve, but also
// returns the fragment ref carried before Normalize stripped it, for
// callers (entry link collection) that must retain it for fragment-targeted
// mentions even though the returned target itself is fragment-less.
func ResolveWithFragment(base, ref string) (target, fragment string, err error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("parse base url: %w", err)
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", fmt.Errorf("parse ref url: %w", err)
	}
	resolved := baseURL.ResolveReference(refURL)

	target, err = Normalize(resolved.String())
	if err != nil {
		return "", "", err
	}
	return target, Fragment(resolved.String()), nil
}
