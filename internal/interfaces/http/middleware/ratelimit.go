package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"latexbot-api/internal/infrastructure/persistence/redis"
	"latexbot-api/internal/interfaces/http/dto"
	"latexbot-api/pkg/logger"
)

// RateLimitConfig 按客户端 IP 的滑动窗口限流配置
type RateLimitConfig struct {
	Enabled bool
	Limit   int64
	Window  time.Duration
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimit 限流中间件。限流器故障时放行，全局每日配额仍由流水线把关。
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	retryAfter := strconv.FormatInt(int64(math.Ceil(cfg.Window.Seconds())), 10)
	limit := strconv.FormatInt(cfg.Limit, 10)

	return func(c *gin.Context) {
		key := redis.BuildClientRateLimitKey(c.ClientIP(), c.FullPath())

		allowed, remaining, err := limiter.Allow(c.Request.Context(), key, cfg.Limit, cfg.Window)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable, allowing request", "error", err.Error())
			c.Next()
			return
		}

		c.Header("RateLimit-Limit", limit)
		c.Header("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !allowed {
			c.Header("Retry-After", retryAfter)
			dto.AbortWithError(c, http.StatusTooManyRequests, "Too many requests, slow down")
			return
		}

		c.Next()
	}
}
