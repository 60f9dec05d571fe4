package server

import "net/http"

// copyRequestHeaders copies relevant headers from the browser request to the
// upstream API request, excluding hop-by-hop headers (per RFC 9110) and the
// browser's own credentials. The console session cookie never leaves the
// console; the upstream sees only the bearer token.
func copyRequestHeaders(dst, src http.Header) {
	for k, v := range src {
		switch k {
		case "Connection", "Upgrade", "Host",
			"Keep-Alive", "Transfer-Encoding", "TE", "Trailer",
			"Proxy-Authorization", "Proxy-Authenticate",
			"Authorization", "Cookie",
			"Accept-Encoding":
			continue
		}
		dst[k] = v
	}
}

// copyResponseHeaders copies upstream response headers to the browser,
// dropping hop-by-hop headers and any cookies the upstream tries to set on
// the console's origin.
func copyResponseHeaders(dst, src http.Header) {
	for k, v := range src {
		switch k {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Trailer",
			"Proxy-Authenticate", "Upgrade",
			"Set-Cookie", "Content-Length":
			continue
		}
		dst[k] = v
	}
}
