package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestReplayGuardDeduplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := &ReplayGuard{R: client, TTL: time.Hour, Logger: zerolog.Nop()}
	body := []byte(`{"code":"PAYMENT_SUCCESS","payload":{"merchantOrderId":"TXN-1"}}`)

	require.True(t, guard.FirstDelivery(context.Background(), body))
	require.False(t, guard.FirstDelivery(context.Background(), body))

	// A different body is a different delivery.
	require.True(t, guard.FirstDelivery(context.Background(), []byte(`{"code":"PAYMENT_ERROR"}`)))

	// After the TTL window the same body counts as new again.
	mr.FastForward(2 * time.Hour)
	require.True(t, guard.FirstDelivery(context.Background(), body))
}

func TestReplayGuardFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	guard := &ReplayGuard{R: client, TTL: time.Hour, Logger: zerolog.Nop()}
	require.True(t, guard.FirstDelivery(context.Background(), []byte("x")))

	var nilGuard *ReplayGuard
	require.True(t, nilGuard.FirstDelivery(context.Background(), []byte("x")))
}
