package upstream

import (
	"fmt"
	"strings"
)

// endpointURL is the result of manually parsing a ws[s]://host[:port][/path]
// endpoint. No net/url: the grammar this spec needs is narrow enough that
// a general-purpose URL parser (which accepts userinfo, queries, fragments
// this protocol never uses) would just be surface area to audit.
type endpointURL struct {
	TLS  bool
	Host string
	Port string
	Path string
}

// parseURL implements spec.md §4.1's "Manual; no general URL library
// required" parsing rule. Scheme matching is case-sensitive: "WSS://" is
// rejected, matching the original implementation this spec was distilled
// from (see DESIGN.md).
func parseURL(raw string) (endpointURL, error) {
	var u endpointURL

	rest, ok := strings.CutPrefix(raw, "wss://")
	if ok {
		u.TLS = true
		u.Port = "443"
	} else if rest, ok = strings.CutPrefix(raw, "ws://"); ok {
		u.TLS = false
		u.Port = "80"
	} else {
		return endpointURL{}, fmt.Errorf("upstream: invalid scheme in %q (want ws:// or wss://)", raw)
	}

	authority := rest
	u.Path = "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		authority = rest[:i]
		u.Path = rest[i:]
	}

	if host, port, ok := strings.Cut(authority, ":"); ok {
		u.Host = host
		u.Port = port
	} else {
		u.Host = authority
	}

	if u.Host == "" {
		return endpointURL{}, fmt.Errorf("upstream: could not extract host from %q", raw)
	}

	return u, nil
}

// dialAddr is the host:port string for net.Dial / the WebSocket dialer.
func (u endpointURL) dialAddr() string {
	return u.Host + ":" + u.Port
}

// dialURL reconstructs the scheme://host:port/path string the dialer is
// handed — round-tripping with default ports substituted, per spec.md §8's
// URL parse round-trip law.
func (u endpointURL) dialURL() string {
	scheme := "ws"
	if u.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, u.Host, u.Port, u.Path)
}
