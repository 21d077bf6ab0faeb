package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/socialblocklabs/arp-agent/internal/logging"
	"github.com/socialblocklabs/arp-agent/internal/metrics"
	"github.com/socialblocklabs/arp-agent/internal/ratelimit"
	"github.com/socialblocklabs/arp-agent/internal/security"
	"github.com/socialblocklabs/arp-agent/internal/traces"
	"github.com/socialblocklabs/arp-agent/internal/validation"
)

const requestIDHeader = "X-Request-ID"

// setupMiddleware installs the global chain. Order matters: recovery wraps
// everything, and the rate limiter runs before any handler work.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(s.recoverPanic))
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware(ratelimit.ByClientIP))
	}
	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.accessLogMiddleware())
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	logging.L(c.Request.Context()).Error("panic recovered",
		"error", recovered,
		"path", c.Request.URL.Path,
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":  "internal_error",
		"detail": "an unexpected error occurred",
	})
}

// requestIDMiddleware keeps an upstream X-Request-ID or assigns a UUID, and
// attaches a request-scoped logger to the context.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)

		c.Next()
	}
}

// accessLogMiddleware logs one line per request: errors for 5xx, warnings for
// 4xx and debug otherwise.
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			attrs = append(attrs, "client_ip", c.ClientIP())
		}

		ctx := c.Request.Context()
		logging.L(ctx).Log(ctx, accessLogLevel(status), "request completed", attrs...)
	}
}

func accessLogLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
