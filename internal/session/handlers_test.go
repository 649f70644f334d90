package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anandkorat/phonepe-bridge/internal/common"
	"github.com/anandkorat/phonepe-bridge/internal/gateway"
	"github.com/anandkorat/phonepe-bridge/internal/record"
)

func newTestRouter(records *stubRecords, gw *stubGateway) *chi.Mux {
	h := &Handlers{
		Sessions: newTestCoordinator(records, gw),
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Route("/api/v1", h.Register)
	return r
}

func TestPayTokenReturnsJSON(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{createResp: gateway.OrderResponse{RedirectURL: "https://pg/x", ExpireAt: 1700001200}}
	router := newTestRouter(records, gw)

	body := strings.NewReader(`{"amount":"49.99","domain":"shop.example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay/token", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool    `json:"success"`
		Data    Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "https://pg/x", resp.Data.CheckoutURL)
	require.True(t, strings.HasPrefix(resp.Data.OrderID, "TKN-"))
}

func TestPayRendersIframe(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{createResp: gateway.OrderResponse{RedirectURL: "https://pg/x"}}
	router := newTestRouter(records, gw)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay", strings.NewReader("amount=10&domain=shop.example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), `<iframe src="https://pg/x"`)
}

func TestPayResponseStyleOverride(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{createResp: gateway.OrderResponse{RedirectURL: "https://pg/x"}}
	router := newTestRouter(records, gw)

	body := strings.NewReader(`{"amount":"10","responseStyle":"http-redirect"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://pg/x", rec.Header().Get("Location"))
}

func TestPayCheckoutRedirects(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{createResp: gateway.OrderResponse{RedirectURL: "https://pg/x"}}
	router := newTestRouter(records, gw)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pay/checkout?amount=10&domain=shop.example.com", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://pg/x", rec.Header().Get("Location"))
}

func TestPayValidationError(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{}
	router := newTestRouter(records, gw)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay/token", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, gw.createCalls)
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestReturnRedirectsToOutcomePage(t *testing.T) {
	records := newStubRecords()
	records.payments["TXN-1-a"] = record.Payment{OrderID: "TXN-1-a", Domain: "shop.example.com", Status: record.StatusPending}
	gw := &stubGateway{statusResp: gateway.StatusResponse{State: gateway.StateCompleted, Amount: 4999}}
	router := newTestRouter(records, gw)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/TXN-1-a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://shop.example.com/thankyou", rec.Header().Get("Location"))
}

func TestCancelRedirectsToCart(t *testing.T) {
	records := newStubRecords()
	records.payments["TXN-1-a"] = record.Payment{OrderID: "TXN-1-a", Domain: "shop.example.com", Status: record.StatusPending}
	gw := &stubGateway{statusResp: gateway.StatusResponse{State: gateway.StatePending}}
	router := newTestRouter(records, gw)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cancel/TXN-1-a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://shop.example.com/cart", rec.Header().Get("Location"))
}

func TestOrderLookup(t *testing.T) {
	records := newStubRecords()
	records.payments["TXN-1-a"] = record.Payment{OrderID: "TXN-1-a", Amount: 49.99, Status: record.StatusSuccess}
	router := newTestRouter(records, &stubGateway{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/order/TXN-1-a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			OrderID string  `json:"orderId"`
			Amount  float64 `json:"amount"`
			Status  string  `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "TXN-1-a", resp.Data.OrderID)
	require.Equal(t, "success", resp.Data.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/order/TXN-missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookAlwaysAcks(t *testing.T) {
	records := newStubRecords()
	records.findErr = context.DeadlineExceeded
	router := newTestRouter(records, &stubGateway{})

	for _, body := range []string{
		"not json at all",
		`{"event":"x","payload":{}}`,
		`{"code":"PAYMENT_SUCCESS","payload":{"merchantOrderId":"TXN-ghost"}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/phonepe", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "body %q", body)
		require.Contains(t, rec.Body.String(), `"success":true`)
	}
}

func TestWebhookAppliesStatus(t *testing.T) {
	records := newStubRecords()
	records.payments["TXN-1-a"] = record.Payment{OrderID: "TXN-1-a", Status: record.StatusPending}
	router := newTestRouter(records, &stubGateway{})

	body := `{"code":"PAYMENT_SUCCESS","payload":{"merchantOrderId":"TXN-1-a"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/phonepe", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, record.StatusSuccess, records.payments["TXN-1-a"].Status)
}

func TestBrowserFlowErrorsRenderPage(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{createErr: common.GatewayError(http.StatusBadGateway, "upstream down")}
	router := newTestRouter(records, gw)

	// Form POST on the iframe flow with the gateway down must land the shopper
	// on an error page, not a JSON body.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay", strings.NewReader("amount=10&domain=shop.example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "GATEWAY_ERROR")
	require.Contains(t, rec.Body.String(), "/cart")

	// A bad amount on the checkout link flow likewise stays browser-shaped.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/pay/checkout?amount=abc&domain=shop.example.com", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestErrorResponseHonorsStyleOverride(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{createErr: common.GatewayError(http.StatusBadGateway, "upstream down")}
	router := newTestRouter(records, gw)

	body := strings.NewReader(`{"amount":"10","responseStyle":"json"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "GATEWAY_ERROR", resp.Error.Code)
}

func TestFormAndQueryBindEnabledModes(t *testing.T) {
	records := newStubRecords()
	gw := &stubGateway{createResp: gateway.OrderResponse{RedirectURL: "https://pg/x"}}
	router := newTestRouter(records, gw)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay",
		strings.NewReader("amount=10&enabledModes=UPI_INTENT&enabledModes=CARD"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	modes := gw.lastOrder.PaymentFlow.PaymentModeConfig
	require.NotNil(t, modes)
	require.Len(t, modes.EnabledPaymentModes, 2)
	require.Equal(t, "UPI_INTENT", modes.EnabledPaymentModes[0].Type)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/pay/checkout?amount=10&domain=shop.example.com&enabledModes=UPI_QR", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	modes = gw.lastOrder.PaymentFlow.PaymentModeConfig
	require.NotNil(t, modes)
	require.Len(t, modes.EnabledPaymentModes, 1)
	require.Equal(t, "UPI_QR", modes.EnabledPaymentModes[0].Type)
}
