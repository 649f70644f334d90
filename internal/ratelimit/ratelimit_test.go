package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Limiter{Client: client, Window: time.Minute, Max: max, Logger: zerolog.Nop()}, mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, _, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i+1)
	}
	allowed, remaining, _, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)

	// Other keys are unaffected.
	allowed, _, _, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMiddlewareBlocksWithHeaders(t *testing.T) {
	l, _ := newTestLimiter(t, 1)
	var hits int
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/pay", nil)
	req.RemoteAddr = "1.2.3.4:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "RATE_LIMITED")
	require.Equal(t, 1, hits)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	l, mr := newTestLimiter(t, 1)
	mr.Close()

	var hits int
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pay", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 3, hits)
}
