package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/anandkorat/phonepe-bridge/internal/common"
	"github.com/anandkorat/phonepe-bridge/internal/gateway"
	"github.com/anandkorat/phonepe-bridge/internal/obs"
	"github.com/anandkorat/phonepe-bridge/internal/outcome"
	"github.com/anandkorat/phonepe-bridge/internal/record"
)

// FallbackDomain stands in when neither the stored record nor the gateway
// metadata names the merchant site. It still yields an absolute redirect, so
// a misrouted shopper lands on an obviously-wrong host instead of a broken
// relative path.
const FallbackDomain = "unknown-domain.com"

// Records is the slice of the payment store the coordinator needs.
type Records interface {
	Create(ctx context.Context, p record.Payment) (record.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (record.Payment, bool, error)
	UpdateStatus(ctx context.Context, orderID string, status record.Status, extra map[string]any) (record.Payment, error)
	AppendEvent(ctx context.Context, orderID string, status record.Status, payload []byte) error
}

// Gateway is the slice of the checkout client the coordinator needs.
type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResponse, error)
	OrderStatus(ctx context.Context, orderID string) (gateway.StatusResponse, error)
}

// PollScheduler enqueues a delayed status poll for an in-flight order.
type PollScheduler interface {
	SchedulePoll(ctx context.Context, orderID string) error
}

// Coordinator drives a checkout session end to end: it creates the gateway
// order, keeps the local record in step with the gateway, and resolves where
// the shopper goes next.
type Coordinator struct {
	Records Records
	Gateway Gateway
	Polls   PollScheduler
	Logger  zerolog.Logger

	// Defaults applied when the caller omits customer identity.
	CustomerName   string
	CustomerMobile string

	// RedirectScheme is the scheme for merchant redirect URLs. Empty means
	// https; local merchant setups override it with http.
	RedirectScheme string

	// Now is injectable for tests; zero value means time.Now.
	Now func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// SessionRequest describes one checkout to open.
type SessionRequest struct {
	Flow           Flow
	Amount         string
	Domain         string
	CustomerName   string
	CustomerMobile string
	// CallbackBaseURL is the externally visible scheme://host of this service,
	// used to build the redirect, cancel and notify URLs.
	CallbackBaseURL string
	// EnabledModes restricts the instruments on the hosted page. Empty means
	// gateway default.
	EnabledModes []string
}

// Session is an opened checkout the caller can hand to the shopper.
type Session struct {
	OrderID     string  `json:"orderId"`
	CheckoutURL string  `json:"checkoutUrl"`
	Amount      float64 `json:"amount"`
	ExpireAt    int64   `json:"expireAt,omitempty"`
}

// Redirect is where a returning shopper is sent after reconciliation.
type Redirect struct {
	OrderID string
	Status  record.Status
	URL     string
}

var tracer = otel.Tracer("phonepe-bridge/session")

// Metric helpers tolerate an unregistered collector so library consumers and
// tests need not wire Prometheus.
func incOrderCreate(flow Flow, result string) {
	if obs.OrderCreateTotal != nil {
		obs.OrderCreateTotal.WithLabelValues(string(flow), result).Inc()
	}
}

func incReconcile(source string, status string) {
	if obs.ReconcileTotal != nil {
		obs.ReconcileTotal.WithLabelValues(source, status).Inc()
	}
}

func incWebhook(result string) {
	if obs.WebhookTotal != nil {
		obs.WebhookTotal.WithLabelValues(result).Inc()
	}
}

func incBackfill() {
	if obs.BackfillTotal != nil {
		obs.BackfillTotal.Inc()
	}
}

// CreateSession validates the request, writes a pending record, and opens a
// hosted-checkout order. The record write comes first and is best-effort: a
// store outage must not block taking payment, reconciliation backfills later.
func (c *Coordinator) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	ctx, span := tracer.Start(ctx, "session.create", trace.WithAttributes(
		attribute.String("flow", string(req.Flow)),
	))
	defer span.End()

	if req.Flow == "" {
		req.Flow = FlowStandard
	}
	major, minor, err := ParseAmount(req.Amount)
	if err != nil {
		incOrderCreate(req.Flow, "invalid")
		return Session{}, err
	}
	if req.Flow.RequiresDomain() && strings.TrimSpace(req.Domain) == "" {
		incOrderCreate(req.Flow, "invalid")
		return Session{}, common.ValidationError("domain is required for this flow", nil)
	}

	orderID := NewOrderID(req.Flow, c.now())
	span.SetAttributes(attribute.String("order_id", orderID))

	if _, err := c.Records.Create(ctx, record.Payment{
		OrderID: orderID,
		Domain:  strings.TrimSpace(req.Domain),
		Amount:  major,
		Status:  record.StatusPending,
	}); err != nil {
		// Keep going: the gateway order is the money-moving step, and pull
		// reconciliation can recreate the record from gateway metadata.
		c.Logger.Error().Err(err).Str("order_id", orderID).Msg("pending record write failed, continuing checkout")
	}

	resp, err := c.Gateway.CreateOrder(ctx, c.buildOrderRequest(orderID, minor, req))
	if err != nil {
		incOrderCreate(req.Flow, "error")
		c.Logger.Error().Err(err).Str("order_id", orderID).Msg("gateway order creation failed")
		return Session{}, err
	}
	incOrderCreate(req.Flow, "ok")

	if c.Polls != nil {
		if err := c.Polls.SchedulePoll(ctx, orderID); err != nil {
			c.Logger.Warn().Err(err).Str("order_id", orderID).Msg("status poll not scheduled")
		}
	}

	c.Logger.Info().
		Str("order_id", orderID).
		Str("flow", string(req.Flow)).
		Float64("amount", major).
		Msg("checkout session created")

	return Session{
		OrderID:     orderID,
		CheckoutURL: resp.RedirectURL,
		Amount:      major,
		ExpireAt:    resp.ExpireAt,
	}, nil
}

func (c *Coordinator) buildOrderRequest(orderID string, minor int64, req SessionRequest) gateway.OrderRequest {
	base := strings.TrimRight(req.CallbackBaseURL, "/")
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		name = c.CustomerName
	}
	mobile := strings.TrimSpace(req.CustomerMobile)
	if mobile == "" {
		mobile = c.CustomerMobile
	}

	order := gateway.OrderRequest{
		MerchantOrderID: orderID,
		Amount:          minor,
		ExpireAfter:     req.Flow.ExpireAfter(),
		MetaInfo:        gateway.MetaInfo{UDF1: strings.TrimSpace(req.Domain)},
		PaymentFlow: gateway.PaymentFlow{
			MerchantURLs: gateway.MerchantURLs{
				RedirectURL: base + "/api/v1/status/" + orderID,
				CancelURL:   base + "/api/v1/cancel/" + orderID,
				NotifyURL:   base + "/api/v1/webhook/phonepe",
			},
		},
		UserInfo: gateway.UserInfo{Name: name, MobileNumber: mobile},
	}
	if len(req.EnabledModes) > 0 {
		cfg := &gateway.PaymentModeConfig{}
		for _, mode := range req.EnabledModes {
			cfg.EnabledPaymentModes = append(cfg.EnabledPaymentModes, gateway.PaymentMode{Type: mode})
		}
		order.PaymentFlow.PaymentModeConfig = cfg
	}
	return order
}

// Reconcile settles an order after the shopper returns from the hosted page.
// It pulls the gateway state, updates (or backfills) the local record, and
// always produces a redirect: on any failure the shopper is sent back to the
// cart rather than shown an error. clientDomain, when non-empty, supplies the
// merchant site for orders whose record never captured one.
func (c *Coordinator) Reconcile(ctx context.Context, orderID, clientDomain string) Redirect {
	ctx, span := tracer.Start(ctx, "session.reconcile", trace.WithAttributes(
		attribute.String("order_id", orderID),
	))
	defer span.End()

	stored, found, err := c.Records.FindByOrderID(ctx, orderID)
	if err != nil {
		c.Logger.Error().Err(err).Str("order_id", orderID).Msg("record lookup failed during reconcile")
	}

	st, err := c.Gateway.OrderStatus(ctx, orderID)
	if err != nil {
		c.Logger.Error().Err(err).Str("order_id", orderID).Msg("gateway status pull failed")
		incReconcile("pull", "error")
		status := record.StatusCancelled
		if found && stored.Status.Terminal() {
			status = stored.Status
		}
		domain := c.domainFor(stored, found, clientDomain, gateway.StatusResponse{})
		return Redirect{OrderID: orderID, Status: status, URL: outcome.RedirectURL(c.RedirectScheme, domain, status)}
	}

	status := outcome.RedirectStatus(st.State)
	domain := c.domainFor(stored, found, clientDomain, st)

	if !found {
		stored = c.backfill(ctx, orderID, domain, st)
		found = true
	}

	c.applyStatus(ctx, orderID, stored, status, gatewayDetails(st), "pull")
	incReconcile("pull", string(status))
	span.SetAttributes(attribute.String("status", string(status)))

	return Redirect{OrderID: orderID, Status: status, URL: outcome.RedirectURL(c.RedirectScheme, domain, status)}
}

// ReconcilePending refreshes one in-flight order from the gateway without any
// shopper present. Used by the delayed poll worker.
func (c *Coordinator) ReconcilePending(ctx context.Context, orderID string) (record.Status, error) {
	stored, found, err := c.Records.FindByOrderID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if found && stored.Status.Terminal() {
		return stored.Status, nil
	}

	st, err := c.Gateway.OrderStatus(ctx, orderID)
	if err != nil {
		incReconcile("poller", "error")
		return "", err
	}

	status := outcome.MapState(st.State)
	if !found {
		stored = c.backfill(ctx, orderID, c.domainFor(stored, found, "", st), st)
	}
	if status != record.StatusPending {
		c.applyStatus(ctx, orderID, stored, status, gatewayDetails(st), "poller")
	}
	incReconcile("poller", string(status))
	return status, nil
}

// WebhookPayload is the push notification body. The gateway wraps order data
// in a payload object; older callbacks put the code at the top level, so both
// spellings are accepted.
type WebhookPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Payload struct {
		MerchantOrderID string `json:"merchantOrderId"`
		OrderID         string `json:"orderId"`
		State           string `json:"state"`
		Amount          int64  `json:"amount"`
		Code            string `json:"code"`
	} `json:"payload"`
}

func (p WebhookPayload) orderID() string {
	if p.Payload.MerchantOrderID != "" {
		return p.Payload.MerchantOrderID
	}
	return p.Payload.OrderID
}

func (p WebhookPayload) statusCode() string {
	if p.Code != "" {
		return p.Code
	}
	return p.Payload.Code
}

// HandleWebhook applies a pushed status to an existing record. Unlike the
// pull path it never backfills: a webhook for an unknown order is logged and
// dropped, because the push body alone cannot be trusted to fabricate a
// payment record.
func (c *Coordinator) HandleWebhook(ctx context.Context, raw []byte) {
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.Logger.Warn().Err(err).Msg("undecodable webhook body")
		incWebhook("undecodable")
		return
	}
	orderID := payload.orderID()
	if orderID == "" {
		c.Logger.Warn().Str("event", payload.Event).Msg("webhook without order id")
		incWebhook("no_order_id")
		return
	}

	status := outcome.WebhookStatus(payload.statusCode())
	if payload.statusCode() == "" && payload.Payload.State != "" {
		status = outcome.MapState(payload.Payload.State)
	}

	stored, found, err := c.Records.FindByOrderID(ctx, orderID)
	if err != nil {
		c.Logger.Error().Err(err).Str("order_id", orderID).Msg("record lookup failed during webhook")
		incWebhook("store_error")
		return
	}
	if !found {
		c.Logger.Warn().Str("order_id", orderID).Msg("webhook for unknown order, ignoring")
		incWebhook("unknown_order")
		return
	}
	if status == record.StatusPending {
		c.Logger.Info().Str("order_id", orderID).Str("code", payload.statusCode()).Msg("webhook carries no settled outcome")
		incWebhook("pending")
		return
	}

	c.applyStatus(ctx, orderID, stored, status, map[string]any{record.DetailWebhookData: json.RawMessage(raw)}, "webhook")
	incWebhook(string(status))
	c.Logger.Info().Str("order_id", orderID).Str("status", string(status)).Msg("webhook reconciled")
}

// FindPayment exposes the stored record for the order lookup endpoint.
func (c *Coordinator) FindPayment(ctx context.Context, orderID string) (record.Payment, error) {
	p, found, err := c.Records.FindByOrderID(ctx, orderID)
	if err != nil {
		return record.Payment{}, err
	}
	if !found {
		return record.Payment{}, common.NotFoundError("payment " + orderID + " not found")
	}
	return p, nil
}

// applyStatus writes the new status unless it would regress a settled order
// back to pending. Terminal-to-terminal overwrites are allowed: a late
// webhook may legitimately correct a cancel into a success.
func (c *Coordinator) applyStatus(ctx context.Context, orderID string, stored record.Payment, status record.Status, extra map[string]any, source string) {
	if stored.Status.Terminal() && status == record.StatusPending {
		c.Logger.Info().
			Str("order_id", orderID).
			Str("stored", string(stored.Status)).
			Str("source", source).
			Msg("ignoring pending update on settled order")
		return
	}
	if _, err := c.Records.UpdateStatus(ctx, orderID, status, extra); err != nil {
		c.Logger.Error().Err(err).Str("order_id", orderID).Str("source", source).Msg("status update failed")
		return
	}
	event, _ := json.Marshal(map[string]any{"source": source, "status": status})
	if err := c.Records.AppendEvent(ctx, orderID, status, event); err != nil {
		c.Logger.Warn().Err(err).Str("order_id", orderID).Msg("audit event not written")
	}
}

// backfill fabricates the missing record from pulled gateway state so the
// rest of reconciliation has a row to update.
func (c *Coordinator) backfill(ctx context.Context, orderID, domain string, st gateway.StatusResponse) record.Payment {
	p := record.Payment{
		OrderID: orderID,
		Domain:  domain,
		Amount:  outcome.MinorToMajor(st.Amount),
		Status:  outcome.MapState(st.State),
		Details: gatewayDetails(st),
	}
	created, err := c.Records.Create(ctx, p)
	if err != nil {
		if common.HasCode(err, common.CodeDuplicate) {
			// Lost a race with another reconciler; the row exists now.
			if existing, found, ferr := c.Records.FindByOrderID(ctx, orderID); ferr == nil && found {
				return existing
			}
		}
		c.Logger.Error().Err(err).Str("order_id", orderID).Msg("record backfill failed")
		return p
	}
	incBackfill()
	c.Logger.Info().Str("order_id", orderID).Str("domain", domain).Msg("payment record backfilled from gateway state")
	return created
}

// domainFor picks the merchant domain: the stored record wins, then whatever
// the caller supplied on the return URL, then the gateway's udf1 echo, then
// the placeholder.
func (c *Coordinator) domainFor(stored record.Payment, found bool, clientDomain string, st gateway.StatusResponse) string {
	if found && strings.TrimSpace(stored.Domain) != "" {
		return stored.Domain
	}
	if d := strings.TrimSpace(clientDomain); d != "" {
		return d
	}
	if d := strings.TrimSpace(st.MetaInfo.UDF1); d != "" {
		return d
	}
	return FallbackDomain
}

func gatewayDetails(st gateway.StatusResponse) map[string]any {
	details := map[string]any{
		record.DetailGatewayResponse: st,
	}
	if tx, ok := st.LatestTransaction(); ok {
		details[record.DetailTransactionID] = tx.TransactionID
		details[record.DetailProviderRef] = tx.ProviderReferenceID
		details[record.DetailPaymentMode] = tx.PaymentMode
	}
	return details
}
