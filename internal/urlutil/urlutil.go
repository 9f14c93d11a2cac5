// Package urlutil contains canonicalization and classification helpers for
// URLs and hostnames checked by the guard.  Canonical forms are used as cache
// keys, so every path that stores or looks up a verdict must go through
// [NormalizeURL].
package urlutil

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
)

// ErrNoHost is returned from [NormalizeURL] when the URL has no hostname.
const ErrNoHost errors.Error = "no hostname in url"

// NormalizeURL canonicalizes rawURL for cache-key comparisons: the scheme
// defaults to https, the hostname is lowercased with any "www." prefix and
// trailing dots removed, default ports are dropped, and a trailing slash is
// stripped from the path.  The fragment is discarded.
func NormalizeURL(rawURL string) (norm string, err error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	host := NormalizeHost(u.Hostname())
	if host == "" {
		return "", ErrNoHost
	}

	scheme := strings.ToLower(u.Scheme)
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}

	u.Scheme = scheme
	u.Host = host
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""

	return u.String(), nil
}

// NormalizeHost lowercases host and strips any trailing dots and a leading
// "www." label.
func NormalizeHost(host string) (norm string) {
	norm = strings.ToLower(strings.TrimRight(host, "."))

	return strings.TrimPrefix(norm, "www.")
}

// HostOf returns the normalized hostname of rawURL, or "" when rawURL cannot
// be parsed.
func HostOf(rawURL string) (host string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return NormalizeHost(u.Hostname())
}

// isDefaultPort reports whether port is the default one for scheme.
func isDefaultPort(scheme, port string) (ok bool) {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}

// IsWellFormedHost reports whether host looks like a checkable public
// hostname: it must contain at least one inner dot or be an IPv6 literal, and
// must not end with consecutive dots.
func IsWellFormedHost(host string) (ok bool) {
	if host == "" {
		return false
	}

	if strings.HasSuffix(host, "..") {
		return false
	}

	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.Is6() || strings.Contains(host, ".")
	}

	return strings.Contains(strings.TrimSuffix(host, "."), ".")
}

// IsInternalHost reports whether host is an IP literal belonging to a
// loopback, private, link-local, or otherwise locally-served range.  Such
// hosts must never be sent to reputation providers.  Hostnames that are not IP
// literals are not considered internal.
func IsInternalHost(host string) (ok bool) {
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return false
	}

	return netutil.IsLocallyServed(addr.Unmap())
}
