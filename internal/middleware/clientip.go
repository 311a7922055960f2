package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/svcgw/internal/util"
)

// ClientIPExtractor resolves the caller address. X-Forwarded-For is only
// honoured when the direct peer is a trusted proxy; with no trusted proxies
// the peer address is always used.
type ClientIPExtractor struct {
	trusted []*net.IPNet
}

// NewClientIPExtractor parses trustedProxies as CIDRs or single addresses.
// Entries that are neither are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	nets := make([]*net.IPNet, 0, len(trustedProxies))
	for _, p := range trustedProxies {
		if _, cidr, err := net.ParseCIDR(p); err == nil {
			nets = append(nets, cidr)
			continue
		}
		if ip := net.ParseIP(p); ip != nil {
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return &ClientIPExtractor{trusted: nets}
}

// Extract returns the client address of r. Behind trusted proxies it walks
// X-Forwarded-For from the right and returns the first untrusted hop.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	peer := stripPort(r.RemoteAddr)
	if len(e.trusted) == 0 || !e.isTrusted(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get(HeaderXForwardedFor), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !e.isTrusted(hop) {
			return hop
		}
	}
	return peer
}

func (e *ClientIPExtractor) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range e.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ClientIP stores the resolved client address on the gin and request
// contexts.
func ClientIP(e *ClientIPExtractor) gin.HandlerFunc {
	if e == nil {
		e = NewClientIPExtractor(nil)
	}
	return func(c *gin.Context) {
		ip := e.Extract(c.Request)
		c.Set(ClientIPKey, ip)
		c.Request = c.Request.WithContext(util.ContextWithClientIP(c.Request.Context(), ip))
		c.Next()
	}
}

// GetClientIP returns the address stored by ClientIP, falling back to the
// direct peer.
func GetClientIP(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return stripPort(c.Request.RemoteAddr)
}
