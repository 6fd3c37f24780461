package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures a fixed window limit.
type RateLimitConfig struct {
	Limit  int           // requests per window
	Window time.Duration // window size, whole seconds
	// KeyFunc picks the bucket for a request; nil means client IP.
	KeyFunc func(c *gin.Context) string
}

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   int64 // unix seconds
	Limit     int
}

// RateLimiter counts requests per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error)
}

// RedisRateLimiter is a fixed window counter shared by every API replica.
type RedisRateLimiter struct {
	redis *redis.Client
}

// NewRedisRateLimiter creates a Redis backed limiter
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{redis: rdb}
}

var fixedWindowScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or 0)
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])
	local allowed = current < limit
	local remaining = limit - current - 1
	if allowed then
		redis.call('INCR', KEYS[1])
		if current == 0 then
			redis.call('EXPIRE', KEYS[1], ttl)
		end
	else
		remaining = -1
	end
	return {allowed and 1 or 0, remaining, limit}
`)

// Allow counts one request against key's current window.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	windowSecs := int64(config.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	window := time.Now().Unix() / windowSecs
	windowKey := fmt.Sprintf("flic:ratelimit:%s:%d", key, window)

	result, err := fixedWindowScript.Run(ctx, r.redis, []string{windowKey},
		config.Limit,
		windowSecs+1,
	).Result()
	if err != nil {
		return nil, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected rate limit reply %v", result)
	}
	return &RateLimitResult{
		Allowed:   values[0].(int64) == 1,
		Remaining: int(values[1].(int64)),
		Limit:     int(values[2].(int64)),
		ResetAt:   (window + 1) * windowSecs,
	}, nil
}

// RateLimit rejects requests over the limit with 429. Limiter errors let
// the request through.
func RateLimit(limiter RateLimiter, config *RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if config.KeyFunc != nil {
			key = config.KeyFunc(c)
		}

		result, err := limiter.Allow(c.Request.Context(), key, config)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": result.ResetAt - time.Now().Unix(),
			})
			return
		}
		c.Next()
	}
}

// BySubject keys the limit on the authenticated subject, falling back to
// the client IP.
func BySubject(c *gin.Context) string {
	if sub := Subject(c); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + c.ClientIP()
}
