package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"buddy-chat/internal/observability"
)

// Limiter admits at most max hits per key inside span.
type Limiter interface {
	Allow(key string, max int, span time.Duration) bool
}

// RateLimit rejects a client IP with 429 once it exceeds max requests per span.
// The IP is gin's ClientIP, so forwarded headers count only from trusted proxies.
func RateLimit(limiter Limiter, scope string, max int, span time.Duration) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(span.Seconds()))
	return func(c *gin.Context) {
		if !limiter.Allow("http:"+scope+":"+c.ClientIP(), max, span) {
			observability.IncRateLimited(scope)
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
