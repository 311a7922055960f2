package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

const bearerPrefix = "Bearer "

// Authenticator checks caller API keys against the configured keys.
// Keys starting with "$2" are bcrypt hashes; the rest are compared in
// constant time. Keys that matched a hash are remembered by digest so
// bcrypt runs once per key.
type Authenticator struct {
	plain  [][]byte
	hashes [][]byte

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewAuthenticator creates an Authenticator. Empty keys are ignored.
func NewAuthenticator(keys []string) *Authenticator {
	a := &Authenticator{verified: make(map[[sha256.Size]byte]struct{})}
	for _, k := range keys {
		switch {
		case k == "":
		case strings.HasPrefix(k, "$2"):
			a.hashes = append(a.hashes, []byte(k))
		default:
			a.plain = append(a.plain, []byte(k))
		}
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.plain)+len(a.hashes) > 0
}

// Authenticate reports whether r presents a known key in X-API-Key or as
// a bearer token.
func (a *Authenticator) Authenticate(r *http.Request) bool {
	key := ExtractAPIKey(r)
	if key == "" {
		return false
	}
	return a.Valid(key)
}

// Valid reports whether key is a configured key.
func (a *Authenticator) Valid(key string) bool {
	candidate := []byte(key)
	for _, k := range a.plain {
		if subtle.ConstantTimeCompare(k, candidate) == 1 {
			return true
		}
	}
	if len(a.hashes) == 0 {
		return false
	}

	digest := sha256.Sum256(candidate)
	a.mu.RLock()
	_, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, candidate) == nil {
			a.mu.Lock()
			a.verified[digest] = struct{}{}
			a.mu.Unlock()
			return true
		}
	}
	return false
}

// ExtractAPIKey returns the key from X-API-Key, or from a bearer
// Authorization header.
func ExtractAPIKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); k != "" {
		return k
	}
	if h := r.Header.Get(HeaderAuthorization); len(h) > len(bearerPrefix) &&
		strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return ""
}

// Auth marks authenticated callers on the gin and request contexts. It
// never rejects: routes decide whether authentication is required.
func Auth(a *Authenticator, logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(c *gin.Context) {
		ok := false
		if ExtractAPIKey(c.Request) != "" {
			ok = a.Authenticate(c.Request)
			if !ok {
				GetMiddlewareMetrics().authFailures.Inc()
				logger.Debug("unknown api key presented",
					observability.String("path", c.Request.URL.Path),
					observability.String("client_ip", GetClientIP(c)),
				)
			}
		}

		c.Set(AuthenticatedKey, ok)
		c.Request = c.Request.WithContext(util.ContextWithAuthenticated(c.Request.Context(), ok))
		c.Next()
	}
}
