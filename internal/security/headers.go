// Package security provides response-hardening middleware for the API.
package security

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// apiHeaders is set on every response. The service only returns JSON, so the
// CSP forbids every resource type and responses are never cached.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// HeadersMiddleware adds the hardening headers to all responses.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range apiHeaders {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

// OriginPolicy decides which browser origins may call the API.
// An empty policy, or one containing "*", allows every origin.
type OriginPolicy []string

// Allows reports whether origin may receive CORS headers.
func (p OriginPolicy) Allows(origin string) bool {
	return len(p) == 0 || slices.Contains(p, "*") || slices.Contains(p, origin)
}

// CORSMiddleware answers preflight requests and reflects allowed origins.
// Credentialed requests are not supported.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	policy := OriginPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && policy.Allows(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
