package session

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/anandkorat/phonepe-bridge/internal/common"
)

// ReplayGuard deduplicates webhook deliveries by body hash. The gateway
// retries notifications aggressively; without the guard a single payment can
// be reconciled a dozen times.
type ReplayGuard struct {
	R      *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger
}

// FirstDelivery reports whether this exact body has not been seen within the
// TTL window. Redis outages fail open: processing a duplicate is safe
// (status writes are idempotent), dropping a first delivery is not.
func (g *ReplayGuard) FirstDelivery(ctx context.Context, body []byte) bool {
	if g == nil || g.R == nil {
		return true
	}
	key := "webhook:replay:" + common.Sha256Hex(string(body))
	ok, err := g.R.SetNX(ctx, key, "seen", g.TTL).Result()
	if err != nil {
		g.Logger.Warn().Err(err).Msg("replay guard unavailable, processing webhook anyway")
		return true
	}
	return ok
}
