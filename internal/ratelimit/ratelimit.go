// Package ratelimit throttles checkout creation per client IP with a Redis
// sliding window. The status and webhook endpoints are never limited: the
// gateway controls their call rate, not the shopper.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/anandkorat/phonepe-bridge/internal/common"
)

// Limiter counts events per key inside a sliding window backed by a Redis
// sorted set of timestamped members.
type Limiter struct {
	Client *redis.Client
	Window time.Duration
	Max    int
	Logger zerolog.Logger
}

// Allow records one event for key and reports whether it stayed within the
// window limit, along with the remaining budget and the window reset time.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	reset := time.Now().Add(l.Window)
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return true, l.Max, reset, nil
	}

	now := time.Now()
	setKey := "ratelimit:" + key

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "-inf", fmt.Sprintf("%d", now.Add(-l.Window).UnixNano()))
	pipe.ZAdd(ctx, setKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	count := pipe.ZCard(ctx, setKey)
	pipe.Expire(ctx, setKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, reset, err
	}

	used := int(count.Val())
	remaining := l.Max - used
	if remaining < 0 {
		remaining = 0
	}
	return used <= l.Max, remaining, reset, nil
}

// Middleware enforces the limit per client IP. Redis failures let traffic
// through: dropping checkouts over a limiter outage costs real payments.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, reset, err := l.Allow(r.Context(), common.ClientIP(r))
		if err != nil {
			l.Logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(reset).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many checkout attempts", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
