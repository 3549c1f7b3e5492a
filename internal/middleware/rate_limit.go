package middleware

import (
	"net/http"

	"github.com/annel0/rewind/internal/logging"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter ограничивает частоту изменяющих запросов. GET не ограничивается.
type RateLimiter struct {
	limiter *rate.Limiter
	log     *logging.Logger
}

// NewRateLimiter rps запросов в секунду с пачкой burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logging.GetAPILogger(),
	}
}

func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || rl.limiter.Allow() {
			c.Next()
			return
		}
		rl.log.Warn("⏳ Превышен лимит запросов: %s %s ip=%s", c.Request.Method, c.Request.URL.Path, c.ClientIP())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": "Слишком много запросов",
		})
	}
}
