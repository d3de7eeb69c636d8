package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"pospay.backend/pkg/logger"
)

// LoggerMiddleware logs every request with its route, caller role and whether it
// was answered from the idempotency cache. Health and metrics probes are skipped.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if path == "/health" || path == "/metrics" {
			return
		}
		if raw != "" {
			path = path + "?" + raw
		}

		var fields []zap.Field
		if route := c.FullPath(); route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if role := c.GetString(UserRoleKey); role != "" {
			fields = append(fields, zap.String("role", role))
		}
		if c.Writer.Header().Get(IdempotencyHitHeader) != "" {
			fields = append(fields, zap.Bool("idempotent_replay", true))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		// RequestIDMiddleware and AuthMiddleware put their ids on the request context
		logger.LogRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start), c.ClientIP(), fields...)
	}
}
