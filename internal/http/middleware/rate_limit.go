package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/gymops/backend/internal/metrics"
)

// TokenBucketLimiter keeps one token bucket per client key.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func NewTokenBucketLimiter(perSecond float64, burst int) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limiters: map[string]*rate.Limiter{},
		r:        rate.Limit(perSecond),
		b:        burst,
	}
}

// Reserve takes a token for key if one is available. Otherwise it reports
// how long until the next token.
func (l *TokenBucketLimiter) Reserve(key string) (bool, float64) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	res := limiter.Reserve()
	if !res.OK() {
		return false, 1
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay.Seconds()
	}
	return true, 0
}

// RateLimit throttles generation and assignment triggers per admin key, or
// per client IP when no key is sent. A non-positive rate disables it.
func RateLimit(l *TokenBucketLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.r <= 0 {
			c.Next()
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = c.ClientIP()
		}
		ok, wait := l.Reserve(key)
		if !ok {
			metrics.HTTPRateLimited.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Too many requests",
				},
			})
			return
		}
		c.Next()
	}
}
