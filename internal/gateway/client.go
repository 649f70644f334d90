package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/anandkorat/phonepe-bridge/internal/common"
	"github.com/anandkorat/phonepe-bridge/internal/token"
)

const flowTypeCheckout = "PG_CHECKOUT"

// Client is a stateless façade over the gateway's hosted-checkout HTTP
// contract. It holds no per-order state and performs no retries; auth retry
// lives in the token source, and timeouts come from the injected http.Client.
type Client struct {
	BaseURL string
	Tokens  *token.Source
	HTTP    *http.Client
	Logger  zerolog.Logger
}

// CreateOrder opens a hosted-checkout order and returns the redirect target.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	var zero OrderResponse
	if req.PaymentFlow.Type == "" {
		req.PaymentFlow.Type = flowTypeCheckout
	}
	body, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("gateway: encode order request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, "/checkout/v2/pay", bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	var parsed OrderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return zero, common.ProtocolError(fmt.Sprintf("create order: undecodable response: %v", err))
	}
	if strings.TrimSpace(parsed.RedirectURL) == "" {
		return zero, common.ProtocolError("create order: response missing redirectUrl")
	}
	return parsed, nil
}

// OrderStatus fetches the current gateway state for a merchant order id.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (StatusResponse, error) {
	var zero StatusResponse
	if strings.TrimSpace(orderID) == "" {
		return zero, common.ValidationError("order id is required", nil)
	}
	path := fmt.Sprintf("/checkout/v2/order/%s/status", url.PathEscape(orderID))
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return zero, err
	}
	var parsed StatusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return zero, common.ProtocolError(fmt.Sprintf("order status: undecodable response: %v", err))
	}
	return parsed, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	tok, err := c.Tokens.Token(ctx, false)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "O-Bearer "+tok)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// Timeouts and transport failures follow the same path as an
		// upstream 5xx: the caller sees a gateway error.
		return nil, common.NewAppError(common.CodeGateway, fmt.Sprintf("gateway call failed: %v", err), http.StatusBadGateway, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewAppError(common.CodeGateway, "gateway response unreadable", http.StatusBadGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("gateway rejected request")
		return nil, common.GatewayError(resp.StatusCode, string(raw))
	}
	return raw, nil
}
