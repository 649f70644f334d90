// Package outcome maps gateway payment states onto local statuses and the
// shopper-facing redirect destinations. Everything here is pure; callers own
// all I/O.
package outcome

import (
	"fmt"
	"strings"

	"github.com/anandkorat/phonepe-bridge/internal/gateway"
	"github.com/anandkorat/phonepe-bridge/internal/record"
)

// MapState converts a gateway order state to the local status vocabulary.
// CREATED and PENDING are both in-flight; anything unrecognised counts as
// failed so a malformed upstream state never parks an order in pending.
func MapState(state string) record.Status {
	switch state {
	case gateway.StateCompleted:
		return record.StatusSuccess
	case gateway.StateCreated, gateway.StatePending:
		return record.StatusPending
	default:
		return record.StatusFailed
	}
}

// RedirectStatus maps a pulled gateway state to the status shown to a shopper
// returning from the hosted page. The browser only comes back once the hosted
// page is done with it, so an order still in flight means the shopper bailed
// out: everything that is not COMPLETED or FAILED reads as cancelled here.
func RedirectStatus(state string) record.Status {
	switch state {
	case gateway.StateCompleted:
		return record.StatusSuccess
	case gateway.StateFailed:
		return record.StatusFailed
	default:
		return record.StatusCancelled
	}
}

// WebhookStatus maps a pushed webhook code to a local status. Unknown codes
// stay pending; a later pull reconciliation settles them.
func WebhookStatus(code string) record.Status {
	switch code {
	case gateway.CodePaymentSuccess:
		return record.StatusSuccess
	case gateway.CodePaymentError:
		return record.StatusFailed
	case gateway.CodePaymentCancelled:
		return record.StatusCancelled
	default:
		return record.StatusPending
	}
}

// MinorToMajor converts paise to a rupee amount.
func MinorToMajor(minor int64) float64 {
	return float64(minor) / 100
}

// RedirectURL builds the merchant page a shopper lands on after checkout:
// /thankyou for success, /cart otherwise. A stored domain containing a dot is
// treated as a real host and gets an absolute URL on the given scheme (https
// when empty); anything else (an empty or placeholder value) falls back to a
// relative path on whatever origin served the redirect.
func RedirectURL(scheme, domain string, status record.Status) string {
	path := "/cart"
	if status == record.StatusSuccess {
		path = "/thankyou"
	}
	domain = strings.TrimSpace(domain)
	if domain == "" || !strings.Contains(domain, ".") {
		return path
	}
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, domain, path)
}
