package gateway

// Gateway order states as returned by the hosted-checkout API.
const (
	StateCreated   = "CREATED"
	StatePending   = "PENDING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Webhook push codes delivered on the notify callback.
const (
	CodePaymentSuccess   = "PAYMENT_SUCCESS"
	CodePaymentError     = "PAYMENT_ERROR"
	CodePaymentCancelled = "PAYMENT_CANCELLED"
)

// MetaInfo carries the five user-defined fields the gateway echoes back on
// status responses. udf1 holds the originating merchant domain by convention.
type MetaInfo struct {
	UDF1 string `json:"udf1,omitempty"`
	UDF2 string `json:"udf2,omitempty"`
	UDF3 string `json:"udf3,omitempty"`
	UDF4 string `json:"udf4,omitempty"`
	UDF5 string `json:"udf5,omitempty"`
}

// MerchantURLs are the callback endpoints the hosted page returns to.
type MerchantURLs struct {
	RedirectURL string `json:"redirectUrl"`
	CancelURL   string `json:"cancelUrl"`
	NotifyURL   string `json:"notifyUrl"`
}

// PaymentMode names one enabled instrument (UPI_INTENT, CARD, NET_BANKING, ...).
type PaymentMode struct {
	Type string `json:"type"`
}

// PaymentModeConfig restricts the instruments shown on the hosted page.
// Absent means gateway default.
type PaymentModeConfig struct {
	EnabledPaymentModes []PaymentMode `json:"enabledPaymentModes"`
}

// PaymentFlow describes the hosted-checkout flow section of a pay request.
type PaymentFlow struct {
	Type              string             `json:"type"`
	Message           string             `json:"message,omitempty"`
	MerchantURLs      MerchantURLs       `json:"merchantUrls"`
	PaymentModeConfig *PaymentModeConfig `json:"paymentModeConfig,omitempty"`
}

// UserInfo identifies the paying customer.
type UserInfo struct {
	Name         string `json:"name"`
	MobileNumber string `json:"mobileNumber"`
}

// OrderRequest is the wire body for POST /checkout/v2/pay. Amount is in minor
// units (paise).
type OrderRequest struct {
	MerchantOrderID string      `json:"merchantOrderId"`
	Amount          int64       `json:"amount"`
	ExpireAfter     int64       `json:"expireAfter"`
	MetaInfo        MetaInfo    `json:"metaInfo"`
	PaymentFlow     PaymentFlow `json:"paymentFlow"`
	UserInfo        UserInfo    `json:"userInfo"`
}

// OrderResponse is the success body of the pay call.
type OrderResponse struct {
	OrderID     string `json:"orderId"`
	State       string `json:"state"`
	ExpireAt    int64  `json:"expireAt"`
	RedirectURL string `json:"redirectUrl"`
}

// TransactionDetail is one settled attempt within a status response.
type TransactionDetail struct {
	TransactionID       string `json:"transactionId"`
	ProviderReferenceID string `json:"providerReferenceId"`
	PaymentMode         string `json:"paymentMode"`
}

// StatusResponse is the body of GET /checkout/v2/order/{id}/status. Amount is
// in minor units.
type StatusResponse struct {
	OrderID        string              `json:"orderId"`
	State          string              `json:"state"`
	Amount         int64               `json:"amount"`
	PaymentDetails []TransactionDetail `json:"paymentDetails"`
	ErrorCode      string              `json:"errorCode,omitempty"`
	Message        string              `json:"message,omitempty"`
	MetaInfo       MetaInfo            `json:"metaInfo"`
}

// LatestTransaction returns the most recent attempt detail, if any.
func (s StatusResponse) LatestTransaction() (TransactionDetail, bool) {
	if len(s.PaymentDetails) == 0 {
		return TransactionDetail{}, false
	}
	return s.PaymentDetails[len(s.PaymentDetails)-1], true
}
