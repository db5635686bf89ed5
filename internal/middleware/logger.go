package middleware

import (
	"net/http"
	"time"

	"newsletter/internal/service"
	"newsletter/pkg/constraints"
	"newsletter/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = "request_id"

// GinZapLogger writes one access line per request, at error level for 5xx and warn for 4xx.
// Authenticated requests carry the caller their idempotency keys are scoped to.
func GinZapLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		// query strings carry subscription tokens and are never logged
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.String("trace_id", c.GetString(traceIDKey)),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		fields = append(fields, callerFields(c)...)
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

func callerFields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	if caller := service.CallerID(c.Request.Context()); caller != "" {
		fields = append(fields, zap.String("caller_id", caller))
	}
	if key := c.GetHeader(constraints.HeaderIdempotencyKey); key != "" {
		fields = append(fields, zap.String("idempotency_key", key))
	}
	return fields
}

func GinZapRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				fields := []zap.Field{
					zap.Any("error", err),
					zap.String("route", c.FullPath()),
					zap.String("trace_id", c.GetString(traceIDKey)),
					zap.Stack("stack"),
				}
				logger.Error("panic recovered", append(fields, callerFields(c)...)...)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := uuid.New().String()
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}
