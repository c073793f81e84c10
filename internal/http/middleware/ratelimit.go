package middleware

import (
	"fmt"
	"net/http"
	"time"

	"dutch_scoreboard/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

var rateLimiter *redis.Client

// InitRedisRateLimiter подключает лимитер к Redis; без него лимиты выключены
func InitRedisRateLimiter(rdb *redis.Client) {
	rateLimiter = rdb
}

// RateLimit - фиксированное окно на клиента: limit запросов за window
// при недоступном Redis запросы пропускаются, лимитер не должен ронять игру
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rateLimiter == nil {
			c.Next()
			return
		}

		id, ok := c.Get("tg_id")
		if !ok {
			id = c.ClientIP()
		}
		key := fmt.Sprintf("dutch:ratelimit:%v:%d", id, time.Now().Unix()/int64(window.Seconds()))

		ctx := c.Request.Context()
		n, err := rateLimiter.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if n == 1 {
			rateLimiter.Expire(ctx, key, window)
		}
		if n > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
