// Package origin implements the browser Origin policy shared by the HTTP
// endpoints and the signaling WebSocket upgrade.
package origin

import (
	"net/url"
	"strings"
)

// Allowed reports whether a browser Origin header value may access the
// service at requestHost.
//
// Requests without an Origin header (non-browser clients) are always allowed.
// When allowedOrigins is non-empty, each entry must be "*" or an exact
// scheme://host[:port] origin. Otherwise the default policy is same-host:
// the origin's host[:port] must match the request's Host header. Scheme is
// deliberately not compared because the relay commonly sits behind a
// TLS-terminating reverse proxy.
func Allowed(originHeader, requestHost string, allowedOrigins []string) bool {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return true
	}

	normalized, host, ok := Normalize(trimmed)
	if !ok {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || strings.EqualFold(allowed, normalized) {
				return true
			}
		}
		return false
	}

	// Opaque "null" origins (sandboxed iframes, file://) can never be
	// same-host.
	if host == "" {
		return false
	}
	return strings.EqualFold(host, strings.TrimSpace(requestHost))
}

// Normalize parses an Origin header into a canonical scheme://host[:port]
// string plus the bare host[:port]. The special value "null" is returned
// as-is with an empty host.
func Normalize(raw string) (normalized, host string, ok bool) {
	if raw == "null" {
		return "null", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host = strings.ToLower(u.Host)
	// Default ports are equivalent to no port.
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	return scheme + "://" + host, host, true
}
