package session

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anandkorat/phonepe-bridge/internal/common"
)

// Flow names one checkout entrypoint. All flows share the same gateway
// contract; they differ in order-id prefix, expiry and response shape.
type Flow string

const (
	FlowStandard Flow = "standard"
	FlowToken    Flow = "token"
	FlowCheckout Flow = "checkout"
	FlowURL      Flow = "url"
	FlowUnique   Flow = "unique"
	FlowMulti    Flow = "multi"
)

// Prefix returns the order-id prefix for the flow.
func (f Flow) Prefix() string {
	switch f {
	case FlowToken:
		return "TKN"
	case FlowCheckout:
		return "CHK"
	case FlowURL:
		return "URL"
	case FlowUnique:
		return "UNQ"
	case FlowMulti:
		return "MLT"
	default:
		return "TXN"
	}
}

// RequiresDomain reports whether the flow must carry the merchant domain up
// front. The checkout and URL flows route the shopper back to the merchant
// site, so they cannot start without knowing it.
func (f Flow) RequiresDomain() bool {
	return f == FlowCheckout || f == FlowURL
}

// ExpireAfter returns how long the hosted page stays payable, in seconds.
// The standard flow keeps the shorter window it always had.
func (f Flow) ExpireAfter() int64 {
	if f == FlowStandard {
		return 1200
	}
	return 1800
}

// ResponseStyle selects how a checkout session is handed back to the caller.
type ResponseStyle string

const (
	// StyleIframe renders an HTML page embedding the hosted checkout.
	StyleIframe ResponseStyle = "html-iframe"
	// StyleRedirectHTML renders an HTML page that navigates the top window.
	StyleRedirectHTML ResponseStyle = "html-redirect"
	// StyleJSON returns the checkout URL in a JSON body.
	StyleJSON ResponseStyle = "json"
	// StyleHTTPRedirect answers with a 302 to the hosted page.
	StyleHTTPRedirect ResponseStyle = "http-redirect"
)

// NewOrderID builds a merchant order id: <prefix>-<epochMillis>-<suffix>.
// The millisecond timestamp keeps ids sortable; the random suffix keeps two
// orders in the same millisecond apart.
func NewOrderID(flow Flow, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", flow.Prefix(), now.UnixMilli(), suffix)
}

// ParseAmount converts a major-unit decimal string ("49.99") into the stored
// major amount and the minor-unit (paise) amount sent to the gateway. Paise
// are rounded half-up so 0.005 rupees never vanishes.
func ParseAmount(raw string) (float64, int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, 0, common.ValidationError("amount is required", nil)
	}
	major, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(major) || math.IsInf(major, 0) {
		return 0, 0, common.ValidationError(fmt.Sprintf("amount %q is not a number", raw), nil)
	}
	if major <= 0 {
		return 0, 0, common.ValidationError("amount must be greater than zero", nil)
	}
	minor := int64(math.Floor(major*100 + 0.5))
	if minor <= 0 {
		return 0, 0, common.ValidationError("amount is below one paisa", nil)
	}
	return major, minor, nil
}
