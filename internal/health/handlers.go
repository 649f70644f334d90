package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/anandkorat/phonepe-bridge/internal/common"
)

const defaultProbeTimeout = 500 * time.Millisecond

// Handler exposes liveness and readiness probes. Readiness only covers the
// stores this service owns; the payment gateway is deliberately excluded so
// an upstream wobble does not take the bridge out of rotation.
type Handler struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	ProbeTimeout time.Duration
}

// Live reports process liveness.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes Postgres and Redis and reports per-dependency status.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	checks := map[string]string{
		"db":    h.probeDB(ctx),
		"redis": h.probeRedis(ctx),
	}
	status := http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	common.JSON(w, status, map[string]any{
		"success": status == http.StatusOK,
		"checks":  checks,
	})
}

func (h Handler) probeDB(ctx context.Context) string {
	if h.DB == nil {
		return "not configured"
	}
	if err := h.DB.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) probeRedis(ctx context.Context) string {
	if h.Redis == nil {
		return "not configured"
	}
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) timeout() time.Duration {
	if h.ProbeTimeout <= 0 {
		return defaultProbeTimeout
	}
	return h.ProbeTimeout
}
