package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/socialblocklabs/arp-agent/internal/attestation"
	"github.com/socialblocklabs/arp-agent/internal/auth"
	"github.com/socialblocklabs/arp-agent/internal/health"
	"github.com/socialblocklabs/arp-agent/internal/logging"
	"github.com/socialblocklabs/arp-agent/internal/metrics"
)

// setupRoutes registers the public probes and the authenticated /v1 API.
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readyHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1", auth.RequireAPIKey(s.auth))
	attestation.NewHandler(s.service).RegisterRoutes(v1)
	v1.GET("/stream/attestations", gin.WrapF(s.hub.HandleWebSocket))
}

// healthHandler answers {ok:true}, or 500 with the first failing check's cause.
func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())
	if healthy {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	failed, _ := health.FirstFailure(statuses)
	logging.L(c.Request.Context()).Error("health check failed",
		"check", failed.Name,
		"error", failed.Detail,
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"ok":     false,
		"error":  "internal_error",
		"detail": failed.Detail,
	})
}

// readyHandler answers {ok:true} while the server accepts traffic and 503
// before Run and once Shutdown has begun.
func (s *Server) readyHandler(c *gin.Context) {
	if s.ready.Load() {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"ok":     false,
		"error":  "not_ready",
		"detail": "server is not accepting traffic",
	})
}
