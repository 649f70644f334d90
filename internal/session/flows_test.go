package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anandkorat/phonepe-bridge/internal/common"
)

func TestNewOrderID(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := NewOrderID(FlowCheckout, now)
	parts := strings.Split(id, "-")
	require.Len(t, parts, 3)
	require.Equal(t, "CHK", parts[0])
	require.Equal(t, "1700000000000", parts[1])
	require.Len(t, parts[2], 8)

	other := NewOrderID(FlowCheckout, now)
	require.NotEqual(t, id, other, "same-millisecond ids must differ")
}

func TestFlowExpiry(t *testing.T) {
	require.EqualValues(t, 1200, FlowStandard.ExpireAfter())
	for _, f := range []Flow{FlowToken, FlowCheckout, FlowURL, FlowUnique, FlowMulti} {
		require.EqualValues(t, 1800, f.ExpireAfter(), "flow %s", f)
	}
}

func TestParseAmount(t *testing.T) {
	major, minor, err := ParseAmount("49.99")
	require.NoError(t, err)
	require.InDelta(t, 49.99, major, 0.0001)
	require.EqualValues(t, 4999, minor)

	// Half-up rounding: 10.005 rupees is 1001 paise, not 1000.
	_, minor, err = ParseAmount("10.005")
	require.NoError(t, err)
	require.EqualValues(t, 1001, minor)

	_, minor, err = ParseAmount("1")
	require.NoError(t, err)
	require.EqualValues(t, 100, minor)

	for _, bad := range []string{"", "abc", "-5", "0", "0.001", "NaN"} {
		_, _, err := ParseAmount(bad)
		require.Error(t, err, "amount %q", bad)
		require.True(t, common.HasCode(err, common.CodeValidation), "amount %q", bad)
	}
}

func TestNewOrderIDUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NewOrderID(FlowStandard, now)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate order id %s after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}
