package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are meaningful to a single connection and never cross
// the proxy in either direction. Host is included so the outbound request
// takes the upstream's host.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
}

func isHopByHop(name string) bool {
	_, ok := hopByHopHeaders[strings.ToLower(name)]
	return ok
}

// copyRequestHeaders forwards inbound headers minus hop-by-hop ones and
// the caller's Authorization, then installs the provider's bearer token.
func copyRequestHeaders(dst, src http.Header, apiKey string) {
	for k, vals := range src {
		if isHopByHop(k) || strings.EqualFold(k, "authorization") || strings.EqualFold(k, "content-length") {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
	dst.Set("Authorization", "Bearer "+apiKey)
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vals := range src {
		if isHopByHop(k) || strings.EqualFold(k, "content-length") {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
