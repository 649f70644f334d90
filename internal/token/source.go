package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anandkorat/phonepe-bridge/internal/common"
	"github.com/anandkorat/phonepe-bridge/internal/obs"
)

// ExpiryMargin is how long before the advertised expiry a token is treated as
// stale. The gateway clock and ours may disagree by a little; refreshing early
// keeps in-flight order calls from racing an expiring credential.
const ExpiryMargin = 300 * time.Second

const defaultMaxAttempts = 3
const defaultBaseBackoff = time.Second

// Source owns the shared OAuth credential for the gateway. All outbound calls
// obtain their bearer token through it; the mutex collapses concurrent
// expiry-triggered refreshes into a single exchange.
type Source struct {
	ClientID      string
	ClientSecret  string
	ClientVersion string
	TokenURL      string
	HTTP          *http.Client
	Logger        zerolog.Logger

	MaxAttempts int
	BaseBackoff time.Duration

	// Now and Sleep are overridable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	accessToken string
	expiresAt   int64 // epoch seconds
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Token returns a usable bearer token, performing a client-credentials
// exchange when the cached one is absent, expired, or force is set.
func (s *Source) Token(ctx context.Context, force bool) (string, error) {
	if strings.TrimSpace(s.ClientID) == "" || strings.TrimSpace(s.ClientSecret) == "" {
		return "", common.ConfigError("gateway client credentials are not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.usableLocked() {
		return s.accessToken, nil
	}
	return s.refreshLocked(ctx)
}

func (s *Source) usableLocked() bool {
	if s.accessToken == "" {
		return false
	}
	return s.expiresAt-int64(ExpiryMargin.Seconds()) > s.now().Unix()
}

// refreshLocked exchanges credentials with bounded retry. Only an upstream 401
// is retried; the gateway occasionally rejects a just-rotated secret until its
// caches settle, which a short backoff rides out.
func (s *Source) refreshLocked(ctx context.Context) (string, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := s.BaseBackoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tok, expiresAt, status, err := s.exchange(ctx)
		if err == nil {
			s.accessToken = tok
			s.expiresAt = expiresAt
			s.recordRefresh("success")
			s.Logger.Debug().Int64("expires_at", expiresAt).Msg("token refreshed")
			return tok, nil
		}
		lastErr = err
		if status != http.StatusUnauthorized {
			break
		}
		if attempt == maxAttempts {
			break
		}
		delay := backoff * time.Duration(1<<uint(attempt-1))
		s.Logger.Warn().Int("attempt", attempt).Dur("retry_in", delay).Msg("token exchange rejected, retrying")
		if err := s.sleep(ctx, delay); err != nil {
			s.recordRefresh("cancelled")
			return "", common.AuthError(err)
		}
	}
	s.recordRefresh("error")
	return "", common.AuthError(lastErr)
}

// exchange performs one form-encoded client-credentials POST. The status of a
// non-2xx response is returned so the caller can decide whether to retry.
func (s *Source) exchange(ctx context.Context) (tok string, expiresAt int64, status int, err error) {
	form := url.Values{}
	form.Set("client_id", s.ClientID)
	form.Set("client_secret", s.ClientSecret)
	form.Set("client_version", s.ClientVersion)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, resp.StatusCode, fmt.Errorf("token exchange failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed exchangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, resp.StatusCode, fmt.Errorf("token exchange: decode response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, resp.StatusCode, fmt.Errorf("token exchange: empty access_token")
	}
	return parsed.AccessToken, parsed.ExpiresAt, resp.StatusCode, nil
}

func (s *Source) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Source) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Source) recordRefresh(result string) {
	if obs.TokenRefreshTotal != nil {
		obs.TokenRefreshTotal.WithLabelValues(result).Inc()
	}
}
