package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"ticketing/monitoring"
)

type RateLimiter struct {
	redis  redis.Cmdable
	max    int64
	window time.Duration
}

func NewRateLimiter(redisClient redis.Cmdable, max int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, max: int64(max), window: window}
}

// Allow counts one hit for key in the current window and reports whether the limit still holds.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := r.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, err
		}
	}

	return count <= r.max, nil
}

// Limit rejects requests over the limit with 429. Authenticated requests are
// counted per user, anonymous ones per client IP. Redis errors let the request through.
func (r *RateLimiter) Limit(scope string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identifier := "ip:" + e.RealIP()
		if e.Auth != nil {
			identifier = "user:" + e.Auth.Id
		}

		allowed, err := r.Allow(e.Request.Context(), scope+":"+identifier)
		if err != nil {
			slog.Warn("Rate limiter unavailable", "scope", scope, "error", err)
			return e.Next()
		}
		if !allowed {
			monitoring.TrackRateLimited(scope)
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}

		return e.Next()
	}
}

// AntiBot turns away clients that identify as crawlers.
func AntiBot(e *core.RequestEvent) error {
	if isSuspiciousUserAgent(e.Request.UserAgent()) {
		return apis.NewForbiddenError("Access denied", nil)
	}
	return e.Next()
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
