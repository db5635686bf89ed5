package middleware

import (
	"time"

	"newsletter/pkg/constraints"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CorsMiddleware allows browser clients to call the API, including the idempotency header.
func CorsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", constraints.HeaderIdempotencyKey, constraints.HeaderTraceID},
		ExposeHeaders:    []string{"Location", constraints.HeaderRetryAfter, constraints.HeaderTraceID, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}
