package api

import (
	"newsletter/internal/metrics"
	"newsletter/internal/middleware"
	"newsletter/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func RegisterRoutes(issueHandler *IssueHandler, subscriptionHandler *SubscriptionHandler, healthHandler *HealthHandler, tokens *service.TokenService, rdb *redis.Client, requestsPerSecond int, devMode bool) *gin.Engine {
	r := gin.New()

	// Global Middleware
	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	_ = r.SetTrustedProxies(nil)

	// Public Routes
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	subscriptions := r.Group("/v1/subscriptions")
	{
		subscriptions.POST("", subscriptionHandler.Subscribe)
		subscriptions.GET("/confirm", subscriptionHandler.Confirm)
	}

	// Protected Routes
	admin := r.Group("/v1/admin")
	admin.Use(middleware.JWTMiddleware(tokens, devMode))

	// Rate Limiter for Write Operations
	writeLimiter := middleware.RateLimitMiddleware(rdb, requestsPerSecond)

	{
		admin.POST("/issues", writeLimiter, issueHandler.PublishIssue)
		admin.GET("/issues", issueHandler.ListIssues)
		admin.GET("/issues/:id", issueHandler.GetIssue)
	}
	return r
}
