package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session-engine/internal/response"
)

// RateLimiter is a token bucket per caller. Authenticated callers are keyed
// by user id so students behind one lab NAT do not share a bucket.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	burst    int
	interval time.Duration // one token per interval
	now      func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter allows burst requests at once, refilled one per interval.
func NewRateLimiter(burst int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		burst:    burst,
		interval: interval,
		now:      time.Now,
	}
}

// Middleware rejects callers whose bucket is empty with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			key = string(claims.TokenType) + ":" + claims.UserID
		}

		if !rl.allow(key) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastSeen: now}
		rl.buckets[key] = b
	}

	b.tokens += float64(now.Sub(b.lastSeen)) / float64(rl.interval)
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Cleanup forgets idle callers until stop is closed.
func (rl *RateLimiter) Cleanup(stop <-chan struct{}, idle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if rl.now().Sub(b.lastSeen) > idle {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
