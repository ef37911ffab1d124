// Package middleware provides gin middleware for the operator HTTP
// surface (spec.md §6's ambient API, distinct from the fleet-client
// mission API served by the external Object Store).
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logging logs each request's method, path, status, and latency,
// grounded on the teacher's api/handler.go LoggerMiddleware shape.
func Logging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// RateLimiter is a per-client token bucket, adapted from the teacher's
// middleware/middleware.go RateLimiter (same token-bucket-per-IP shape,
// rebuilt here as a gin.HandlerFunc instead of a net/http wrapper).
type RateLimiter struct {
	mu       sync.Mutex
	tokens   map[string]*bucket
	rate     int
	interval time.Duration
	logger   *zap.Logger
}

// NewRateLimiter returns a limiter allowing ratePerMinute requests per
// client IP.
func NewRateLimiter(ratePerMinute int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		tokens:   make(map[string]*bucket),
		rate:     ratePerMinute,
		interval: time.Minute,
		logger:   logger,
	}
}

// Middleware returns the gin.HandlerFunc enforcing the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		rl.mu.Lock()
		b, ok := rl.tokens[ip]
		if !ok || now.Sub(b.lastReset) >= rl.interval {
			b = &bucket{tokens: rl.rate, lastReset: now}
			rl.tokens[ip] = b
		}
		allowed := b.tokens > 0
		if allowed {
			b.tokens--
		}
		rl.mu.Unlock()

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
