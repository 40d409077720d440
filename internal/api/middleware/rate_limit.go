package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/internal/apperror"
	"chat-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitMiddleware enforces sliding-window limits. A nil limiter turns
// every check into a pass-through, and a limiter failure lets the request
// through with a warning.
type RateLimitMiddleware struct {
	limiter RateLimiter
}

func NewRateLimitMiddleware(limiter RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

func (rm *RateLimitMiddleware) limit(key func(c *gin.Context) string, requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rm.limiter == nil {
			c.Next()
			return
		}

		k := key(c)
		allowed, err := rm.limiter.CheckRateLimit(c.Request.Context(), k, requests, window)
		if err != nil {
			slog.Warn("Rate limit check failed", "key", k, "error", err)
			c.Next()
			return
		}

		if !allowed {
			response.Error(c, apperror.New(apperror.KindRateLimited,
				fmt.Sprintf("too many requests, limit is %d per %v", requests, window)))
			return
		}

		c.Next()
	}
}

// RateLimit limits authenticated callers per endpoint.
func (rm *RateLimitMiddleware) RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	return rm.limit(func(c *gin.Context) string {
		return fmt.Sprintf("rate_limit:%s:%s", UserID(c), c.FullPath())
	}, requests, window)
}

// RateLimitIP limits unauthenticated endpoints, such as the websocket
// handshake, per client address.
func (rm *RateLimitMiddleware) RateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	return rm.limit(func(c *gin.Context) string {
		return fmt.Sprintf("rate_limit_ip:%s:%s", c.ClientIP(), c.FullPath())
	}, requests, window)
}
