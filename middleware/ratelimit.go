package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"dashboard-knowledge-engine/internal/config"
	"dashboard-knowledge-engine/utils"
)

// RateLimitMiddleware implements fixed-window rate limiting in Redis,
// keyed by IP + endpoint. Fails open when Redis is unreachable so the
// knowledge API keeps answering.
func RateLimitMiddleware(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/health" {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()

		ctx := context.Background()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Fail open - don't block requests if Redis is down
			c.Next()
			return
		}

		// Set expiration on first request
		if count == 1 {
			rdb.Expire(ctx, key, time.Duration(cfg.RateLimitWindow)*time.Second)
		}

		if count > int64(cfg.RateLimitReqs) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitReqs))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(
				time.Now().Add(time.Duration(cfg.RateLimitWindow)*time.Second).Unix(), 10))

			utils.RespondWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": cfg.RateLimitWindow,
					"limit":       cfg.RateLimitReqs,
				})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitReqs))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(cfg.RateLimitReqs-int(count)))
		c.Next()
	}
}
