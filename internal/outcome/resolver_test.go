package outcome_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anandkorat/phonepe-bridge/internal/outcome"
	"github.com/anandkorat/phonepe-bridge/internal/record"
)

func TestMapState(t *testing.T) {
	cases := map[string]record.Status{
		"COMPLETED": record.StatusSuccess,
		"PENDING":   record.StatusPending,
		"CREATED":   record.StatusPending,
		"FAILED":    record.StatusFailed,
		"EXPIRED":   record.StatusFailed,
		"":          record.StatusFailed,
	}
	for state, want := range cases {
		require.Equal(t, want, outcome.MapState(state), "state %q", state)
	}
}

func TestRedirectStatusTreatsInFlightAsCancelled(t *testing.T) {
	require.Equal(t, record.StatusSuccess, outcome.RedirectStatus("COMPLETED"))
	require.Equal(t, record.StatusFailed, outcome.RedirectStatus("FAILED"))
	require.Equal(t, record.StatusCancelled, outcome.RedirectStatus("PENDING"))
	require.Equal(t, record.StatusCancelled, outcome.RedirectStatus("CREATED"))
	require.Equal(t, record.StatusCancelled, outcome.RedirectStatus("SOMETHING_NEW"))
}

func TestWebhookStatus(t *testing.T) {
	require.Equal(t, record.StatusSuccess, outcome.WebhookStatus("PAYMENT_SUCCESS"))
	require.Equal(t, record.StatusFailed, outcome.WebhookStatus("PAYMENT_ERROR"))
	require.Equal(t, record.StatusCancelled, outcome.WebhookStatus("PAYMENT_CANCELLED"))
	require.Equal(t, record.StatusPending, outcome.WebhookStatus("PAYMENT_REFUND_INITIATED"))
}

func TestRedirectURL(t *testing.T) {
	require.Equal(t, "https://shop.example.com/thankyou", outcome.RedirectURL("", "shop.example.com", record.StatusSuccess))
	require.Equal(t, "https://shop.example.com/cart", outcome.RedirectURL("", "shop.example.com", record.StatusFailed))
	require.Equal(t, "https://shop.example.com/cart", outcome.RedirectURL("https", "shop.example.com", record.StatusCancelled))

	// Local merchant setups run plain http; the scheme comes from config.
	require.Equal(t, "http://shop.example.com/cart", outcome.RedirectURL("http", "shop.example.com", record.StatusFailed))

	// Placeholder domains without a dot stay relative to the serving origin.
	require.Equal(t, "/thankyou", outcome.RedirectURL("", "localhost", record.StatusSuccess))
	require.Equal(t, "/cart", outcome.RedirectURL("http", "", record.StatusPending))
}

func TestMinorToMajor(t *testing.T) {
	require.InDelta(t, 49.99, outcome.MinorToMajor(4999), 0.0001)
	require.InDelta(t, 1, outcome.MinorToMajor(100), 0.0001)
	require.InDelta(t, 0, outcome.MinorToMajor(0), 0.0001)
}
