// Package sanitize validates and canonicalizes target URLs before any
// expensive work is attempted against them.
package sanitize

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

// trackingParams are stripped from every URL before key derivation so that
// campaign-tagged links hit the same cache entry.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "_ga", "_gid", "mc_cid", "mc_eid",
}

// allowedPorts are the only explicit ports accepted on target URLs.
var allowedPorts = map[string]struct{}{
	"80":   {},
	"443":  {},
	"8080": {},
	"8443": {},
}

// blockedHostnames are rejected regardless of DNS resolution.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

// Sanitize parses, validates, and canonicalizes a raw URL. It rejects
// non-HTTP(S) schemes, internal/loopback/link-local hosts, and denylisted
// ports, strips tracking query parameters, lowercases scheme and host,
// removes default ports and fragments, and sorts the remaining query.
// All failures wrap roast.ErrInvalidURL.
func Sanitize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: parse: %v", roast.ErrInvalidURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: only http(s) schemes are allowed", roast.ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", roast.ErrInvalidURL)
	}
	if _, blocked := blockedHostnames[host]; blocked {
		return "", fmt.Errorf("%w: internal network hosts are not allowed", roast.ErrInvalidURL)
	}
	if strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return "", fmt.Errorf("%w: internal network hosts are not allowed", roast.ErrInvalidURL)
	}
	if addr, parseErr := netip.ParseAddr(strings.Trim(host, "[]")); parseErr == nil {
		if isInternalAddr(addr) {
			return "", fmt.Errorf("%w: internal network addresses are not allowed", roast.ErrInvalidURL)
		}
	}

	if port := u.Port(); port != "" {
		if _, ok := allowedPorts[port]; !ok {
			return "", fmt.Errorf("%w: port %s is not allowed", roast.ErrInvalidURL, port)
		}
	}

	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	q := u.Query()
	for _, param := range trackingParams {
		q.Del(param)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// cgnat is the carrier-grade NAT range, which netip does not classify as
// private.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

func isInternalAddr(addr netip.Addr) bool {
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		addr.IsMulticast() ||
		cgnat.Contains(addr.Unmap())
}
