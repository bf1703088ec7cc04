package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// rateLimiter is a fixed one-minute window counter. A limit of zero
// disables it.
type rateLimiter struct {
	mu          sync.Mutex
	limit       int
	counter     int
	windowStart time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, windowStart: time.Now()}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}

// RateLimitMiddleware rejects requests over the per-minute budget.
func RateLimitMiddleware(limit int) gin.HandlerFunc {
	rl := newRateLimiter(limit)
	return func(c *gin.Context) {
		if !rl.allow() {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
