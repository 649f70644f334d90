package record

import "time"

// Status is the local payment status vocabulary.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status may not regress to pending. cancelled is
// deliberately not terminal: a late success webhook can still upgrade an order
// the browser abandoned.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Detail bag keys. Sub-payloads are merged into the JSONB column under these
// named fields rather than dotted-path injection.
const (
	DetailGatewayResponse = "phonepeResponse"
	DetailWebhookData     = "webhookData"
	DetailTransactionID   = "transactionId"
	DetailProviderRef     = "providerReferenceId"
	DetailPaymentMode     = "paymentMode"
)

// Payment is one persisted payment attempt, keyed by the merchant order id.
// Amount is in major units (rupees), matching what the merchant displayed.
type Payment struct {
	OrderID   string
	Domain    string
	Amount    float64
	Status    Status
	Details   map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}
