package proxy

import (
	"net"
	"net/http"
	"strings"
)

// Gateway headers.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderGatewayRoute   = "X-Gateway-Route"
	HeaderAPIKey         = "X-API-Key"
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderForwardedProto = "X-Forwarded-Proto"
	HeaderForwardedHost  = "X-Forwarded-Host"
)

// hopHeaders are connection-scoped and never forwarded (RFC 7230 6.1).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders deletes hop-by-hop headers, including any named in
// the Connection header.
func removeHopHeaders(h http.Header) {
	for _, field := range h.Values("Connection") {
		for _, name := range strings.Split(field, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// applyHeaderRules removes, then sets, the configured headers.
func applyHeaderRules(h http.Header, add map[string]string, remove []string) {
	for _, name := range remove {
		h.Del(name)
	}
	for name, value := range add {
		h.Set(name, value)
	}
}

// requestProto returns the scheme the client used to reach the gateway.
func requestProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// remoteHost is the peer address of r without the port.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return host
}

// setForwardedHeaders appends clientIP to the X-Forwarded-For chain found
// in in and records the original protocol and host on out. A protocol
// forwarded by an earlier hop wins.
func setForwardedHeaders(out, in http.Header, clientIP, proto, host string) {
	if clientIP != "" {
		if prior := in.Get(HeaderForwardedFor); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Set(HeaderForwardedFor, clientIP)
	}
	if prior := in.Get(HeaderForwardedProto); prior != "" {
		proto = prior
	}
	if proto != "" {
		out.Set(HeaderForwardedProto, proto)
	}
	if host != "" {
		out.Set(HeaderForwardedHost, host)
	}
}

// copyResponseHeaders copies backend response headers that may reach the
// client. Length and type are set separately because the body may change.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if name == "Content-Length" {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	removeHopHeaders(dst)
}
