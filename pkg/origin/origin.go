package origin

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Null is the serialised origin of sandboxed frames, file: pages and
// opaque-scheme documents.
const Null = "null"

// Wildcard in an allow-list accepts every non-null origin.
const Wildcard = "*"

var (
	// ErrInvalidOrigin is returned for strings that are not a scheme://host[:port] origin.
	ErrInvalidOrigin = errors.New("origin: invalid origin")

	// ErrPublicSuffix is returned when an origin's host is itself a public suffix.
	ErrPublicSuffix = errors.New("origin: host is a public suffix")
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// IsNull reports whether o is the opaque origin.
func IsNull(o string) bool {
	o = strings.TrimSpace(o)
	return o == "" || o == Null
}

// Normalize canonicalises o to scheme://host[:port] with a lower-case
// scheme and host and without the scheme's default port. "null" is
// returned unchanged.
func Normalize(o string) (string, error) {
	o = strings.TrimSpace(o)
	if IsNull(o) {
		return Null, nil
	}
	u, err := url.Parse(o)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidOrigin, o, err)
	}
	if u.Scheme == "" || u.Host == "" || u.User != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrigin, o)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: %q has a path, query or fragment", ErrInvalidOrigin, o)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return scheme + "://" + host + ":" + port, nil
	}
	return scheme + "://" + host, nil
}

// FromURL extracts the origin of a full URL such as a page location.
func FromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidOrigin, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Null, nil
	}
	return Normalize(u.Scheme + "://" + u.Host)
}

// Domain returns the lower-case hostname of o. It is the key under which
// connection grants are stored.
func Domain(o string) (string, error) {
	n, err := Normalize(o)
	if err != nil {
		return "", err
	}
	if n == Null {
		return "", fmt.Errorf("%w: opaque origin has no domain", ErrInvalidOrigin)
	}
	u, err := url.Parse(n)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	return u.Hostname(), nil
}

// Site returns the registrable domain (eTLD+1) of o, for display in
// approval prompts. IP literals and single-label hosts such as localhost
// are returned as-is.
func Site(o string) (string, error) {
	host, err := Domain(o)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPublicSuffix, host)
	}
	return site, nil
}

// Same reports whether a and b normalise to the same origin. Two null
// origins are never the same.
func Same(a, b string) bool {
	na, err := Normalize(a)
	if err != nil || na == Null {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}
