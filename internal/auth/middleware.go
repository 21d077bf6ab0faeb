package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/socialblocklabs/arp-agent/internal/logging"
	"github.com/socialblocklabs/arp-agent/internal/metrics"
)

// ContextKeyAuthenticated is set in the gin context once the key checks out.
const ContextKeyAuthenticated = "authenticated"

// RequireAPIKey rejects requests whose x-api-key header is missing or wrong.
// It aborts before any downstream handler runs, so nothing reaches the store.
func RequireAPIKey(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Check(c.GetHeader(HeaderName)); err != nil {
			metrics.AuthFailuresTotal.Inc()
			logging.L(c.Request.Context()).Warn("rejected request",
				"path", c.Request.URL.Path,
				"reason", err.Error(),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "unauthorized",
				"detail": "invalid api key",
			})
			return
		}
		c.Set(ContextKeyAuthenticated, true)
		c.Next()
	}
}

// IsAuthenticated checks if the request passed RequireAPIKey
func IsAuthenticated(c *gin.Context) bool {
	return c.GetBool(ContextKeyAuthenticated)
}
