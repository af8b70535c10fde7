package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/auth"
)

const (
	DefaultRateLimit  = 120
	DefaultRateWindow = time.Minute
	DefaultBurstLimit = 20
)

type RedisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Pipeline() redis.Pipeliner
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	Burst  int
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Limit <= 0 {
		c.Limit = DefaultRateLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultRateWindow
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurstLimit
	}
	return c
}

// RateLimiter counts requests per user and route in fixed redis windows.
// It must run after auth.AuthMiddleware.
type RateLimiter struct {
	redis  RedisClient
	cfg    RateLimitConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewRateLimiter(redis RedisClient, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// hit increments the counter of the window containing now and returns the
// new count and the window's end.
func (rl *RateLimiter) hit(ctx context.Context, prefix string, window time.Duration) (int64, time.Time, error) {
	start := rl.now().Truncate(window)
	key := prefix + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}
	return incr.Val(), start.Add(window), nil
}

func (rl *RateLimiter) limit(kind string, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserID(c)
		if !ok {
			c.Next()
			return
		}

		prefix := kind + ":" + userID.String() + ":" + c.FullPath()
		count, reset, err := rl.hit(c.Request.Context(), prefix, window)
		if err != nil {
			// fail open
			rl.logger.Error("failed to update "+kind,
				zap.Error(err),
				zap.String("user_id", userID.String()),
				zap.String("path", c.FullPath()),
			)
			c.Next()
			return
		}

		remaining := int64(max) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(max))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(max) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "Rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return rl.limit("rate_limit", rl.cfg.Limit, rl.cfg.Window)
}

// BurstLimit caps requests within a single second.
func (rl *RateLimiter) BurstLimit() gin.HandlerFunc {
	return rl.limit("burst_limit", rl.cfg.Burst, time.Second)
}
