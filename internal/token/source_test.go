package token_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anandkorat/phonepe-bridge/internal/common"
	"github.com/anandkorat/phonepe-bridge/internal/token"
)

func newExchangeServer(t *testing.T, calls *int64, respond func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostFormValue("grant_type"))
		require.Equal(t, "merchant-1", r.PostFormValue("client_id"))
		respond(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func okExchange(tok string, expiresAt int64) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "expires_at": expiresAt})
	}
}

func TestTokenCachedUntilMargin(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	var calls int64
	srv := newExchangeServer(t, &calls, okExchange("tok-1", base.Unix()+3600))

	now := base
	src := &token.Source{
		ClientID:      "merchant-1",
		ClientSecret:  "s3cret",
		ClientVersion: "1",
		TokenURL:      srv.URL,
		Now:           func() time.Time { return now },
	}

	got, err := src.Token(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "tok-1", got)
	require.EqualValues(t, 1, atomic.LoadInt64(&calls))

	// T+3000: still outside the 300s margin, no network call.
	now = base.Add(3000 * time.Second)
	got, err = src.Token(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "tok-1", got)
	require.EqualValues(t, 1, atomic.LoadInt64(&calls))

	// T+3400: inside the margin, must refresh.
	now = base.Add(3400 * time.Second)
	_, err = src.Token(context.Background(), false)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestTokenForceRefresh(t *testing.T) {
	var calls int64
	srv := newExchangeServer(t, &calls, okExchange("tok-x", time.Now().Unix()+3600))

	src := &token.Source{ClientID: "merchant-1", ClientSecret: "s3cret", TokenURL: srv.URL}
	_, err := src.Token(context.Background(), false)
	require.NoError(t, err)
	_, err = src.Token(context.Background(), true)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestTokenRetriesOn401(t *testing.T) {
	var calls int64
	srv := newExchangeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt64(&calls) < 3 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		okExchange("tok-after-retry", time.Now().Unix()+3600)(w, r)
	})

	src := &token.Source{
		ClientID:     "merchant-1",
		ClientSecret: "s3cret",
		TokenURL:     srv.URL,
		Sleep:        func(context.Context, time.Duration) error { return nil },
	}
	got, err := src.Token(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "tok-after-retry", got)
	require.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

func TestTokenExhausts401Retries(t *testing.T) {
	var calls int64
	srv := newExchangeServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	var delays []time.Duration
	src := &token.Source{
		ClientID:     "merchant-1",
		ClientSecret: "s3cret",
		TokenURL:     srv.URL,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}
	_, err := src.Token(context.Background(), false)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeAuth))
	require.EqualValues(t, 3, atomic.LoadInt64(&calls))
	// exponential: 1s then 2s
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestTokenNonRetryableFailure(t *testing.T) {
	var calls int64
	srv := newExchangeServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	src := &token.Source{ClientID: "merchant-1", ClientSecret: "s3cret", TokenURL: srv.URL}
	_, err := src.Token(context.Background(), false)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeAuth))
	require.EqualValues(t, 1, atomic.LoadInt64(&calls), "500 must not be retried")
}

func TestTokenMissingCredentials(t *testing.T) {
	src := &token.Source{TokenURL: "http://unused.invalid"}
	_, err := src.Token(context.Background(), false)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeConfig))
}
