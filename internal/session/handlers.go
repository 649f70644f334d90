package session

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/anandkorat/phonepe-bridge/internal/common"
	"github.com/anandkorat/phonepe-bridge/internal/record"
)

const maxWebhookBody = 1 << 20

var checkoutPage = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Complete your payment</title>
  <style>html,body,iframe{margin:0;padding:0;border:0;width:100%;height:100%}</style>
</head>
<body>
{{if .Iframe}}  <iframe src="{{.CheckoutURL}}" allow="payment"></iframe>
{{else}}  <script>window.top.location.href = {{.CheckoutURL}};</script>
  <noscript><a href="{{.CheckoutURL}}">Continue to payment</a></noscript>
{{end}}</body>
</html>
`))

var errorPage = template.Must(template.New("payerror").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Payment not started</title>
  <style>body{font-family:sans-serif;max-width:32em;margin:4em auto;padding:0 1em}</style>
</head>
<body>
  <h1>We could not start your payment</h1>
  <p>{{.Message}}</p>
  <p>Reason code: <code>{{.Code}}</code></p>
  <p><a href="/cart">Return to your cart</a></p>
</body>
</html>
`))

// Handlers exposes the checkout flows over HTTP.
type Handlers struct {
	Sessions *Coordinator
	Replays  *ReplayGuard
	Validate *validator.Validate
	Logger   zerolog.Logger

	// PublicBaseURL, when set, overrides the callback base derived from the
	// inbound request.
	PublicBaseURL string
}

// Register mounts all checkout routes on the given router, typically under
// /api/v1.
func (h *Handlers) Register(r chi.Router) {
	r.Post("/pay", h.Pay)
	r.Post("/pay/token", h.PayToken)
	r.Get("/pay/checkout", h.PayCheckout)
	r.Post("/pay/url", h.PayURL)
	r.Get("/status/{orderID}", h.Return)
	r.Get("/cancel/{orderID}", h.Return)
	r.Get("/order/{orderID}", h.Order)
	r.Post("/webhook/phonepe", h.Webhook)
}

type payRequest struct {
	Amount         string   `json:"amount" validate:"required"`
	Flow           string   `json:"flow" validate:"omitempty,oneof=standard token checkout url unique multi"`
	ResponseStyle  string   `json:"responseStyle" validate:"omitempty,oneof=html-iframe html-redirect json http-redirect"`
	Domain         string   `json:"domain" validate:"omitempty,max=255"`
	CustomerName   string   `json:"customerName" validate:"omitempty,max=100"`
	CustomerMobile string   `json:"customerMobile" validate:"omitempty,min=8,max=15"`
	EnabledModes   []string `json:"enabledModes" validate:"omitempty,dive,oneof=UPI_INTENT UPI_COLLECT UPI_QR CARD NET_BANKING"`
}

func (h *Handlers) bind(r *http.Request) (payRequest, error) {
	var req payRequest
	switch {
	case strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"):
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, common.ValidationError("request body is not valid JSON", nil)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return req, common.ValidationError("request body is not a valid form", nil)
		}
		req.Amount = r.Form.Get("amount")
		req.Flow = r.Form.Get("flow")
		req.ResponseStyle = r.Form.Get("responseStyle")
		req.Domain = r.Form.Get("domain")
		req.CustomerName = r.Form.Get("customerName")
		req.CustomerMobile = r.Form.Get("customerMobile")
		req.EnabledModes = r.Form["enabledModes"]
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			return req, common.ValidationError("invalid checkout request", err.Error())
		}
	}
	return req, nil
}

func (h *Handlers) callbackBase(r *http.Request) string {
	if h.PublicBaseURL != "" {
		return h.PublicBaseURL
	}
	return common.RequestBaseURL(r)
}

func (h *Handlers) create(r *http.Request, flow Flow, req payRequest) (Session, error) {
	// The unique and multi flows differ from standard only in order-id prefix,
	// so they ride the same endpoints via the flow field.
	if req.Flow != "" {
		flow = Flow(req.Flow)
	}
	return h.Sessions.CreateSession(r.Context(), SessionRequest{
		Flow:            flow,
		Amount:          req.Amount,
		Domain:          req.Domain,
		CustomerName:    req.CustomerName,
		CustomerMobile:  req.CustomerMobile,
		CallbackBaseURL: h.callbackBase(r),
		EnabledModes:    req.EnabledModes,
	})
}

// respondError surfaces a failure in the flow's native shape: JSON callers get
// the canonical error envelope, browser-facing flows get a rendered error page
// carrying the reason code, so a shopper never lands on raw JSON.
func (h *Handlers) respondError(w http.ResponseWriter, style ResponseStyle, req payRequest, err error) {
	if req.ResponseStyle != "" {
		style = ResponseStyle(req.ResponseStyle)
	}
	if style == StyleJSON {
		common.JSONAppError(w, err)
		return
	}

	status := http.StatusInternalServerError
	message := "something went wrong on our side"
	var app *common.AppError
	if errors.As(err, &app) {
		status = app.HTTPStatus
		message = app.Message
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	renderErr := errorPage.Execute(w, struct {
		Code    string
		Message string
	}{Code: common.CodeOf(err), Message: message})
	if renderErr != nil {
		h.Logger.Error().Err(renderErr).Msg("error page render failed")
	}
}

// respond hands the opened session back in the flow's response style. A
// request may override the default style, which is how the older per-shape
// endpoints collapsed into one set of handlers.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, style ResponseStyle, req payRequest, sess Session) {
	if req.ResponseStyle != "" {
		style = ResponseStyle(req.ResponseStyle)
	}
	switch style {
	case StyleJSON:
		common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": sess})
	case StyleHTTPRedirect:
		http.Redirect(w, r, sess.CheckoutURL, http.StatusFound)
	case StyleRedirectHTML:
		h.renderCheckout(w, sess, false)
	default:
		h.renderCheckout(w, sess, true)
	}
}

// Pay opens a checkout and answers with an HTML page embedding the hosted
// payment screen, for merchants that POST a plain form at this service.
func (h *Handlers) Pay(w http.ResponseWriter, r *http.Request) {
	req, err := h.bind(r)
	if err != nil {
		h.respondError(w, StyleIframe, req, err)
		return
	}
	sess, err := h.create(r, FlowStandard, req)
	if err != nil {
		h.respondError(w, StyleIframe, req, err)
		return
	}
	h.respond(w, r, StyleIframe, req, sess)
}

// PayToken opens a checkout and returns the hosted URL as JSON for clients
// that manage their own navigation.
func (h *Handlers) PayToken(w http.ResponseWriter, r *http.Request) {
	req, err := h.bind(r)
	if err != nil {
		h.respondError(w, StyleJSON, req, err)
		return
	}
	sess, err := h.create(r, FlowToken, req)
	if err != nil {
		h.respondError(w, StyleJSON, req, err)
		return
	}
	h.respond(w, r, StyleJSON, req, sess)
}

// PayCheckout opens a checkout from query parameters and 302s straight to the
// hosted page. Used as a link target.
func (h *Handlers) PayCheckout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := payRequest{
		Amount:         q.Get("amount"),
		Domain:         q.Get("domain"),
		CustomerName:   q.Get("customerName"),
		CustomerMobile: q.Get("customerMobile"),
		EnabledModes:   q["enabledModes"],
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			h.respondError(w, StyleHTTPRedirect, req, common.ValidationError("invalid checkout request", err.Error()))
			return
		}
	}
	sess, err := h.create(r, FlowCheckout, req)
	if err != nil {
		h.respondError(w, StyleHTTPRedirect, req, err)
		return
	}
	h.respond(w, r, StyleHTTPRedirect, req, sess)
}

// PayURL opens a checkout from a POSTed body and 302s to the hosted page.
func (h *Handlers) PayURL(w http.ResponseWriter, r *http.Request) {
	req, err := h.bind(r)
	if err != nil {
		h.respondError(w, StyleHTTPRedirect, req, err)
		return
	}
	sess, err := h.create(r, FlowURL, req)
	if err != nil {
		h.respondError(w, StyleHTTPRedirect, req, err)
		return
	}
	h.respond(w, r, StyleHTTPRedirect, req, sess)
}

// Return handles the shopper coming back from the hosted page, on both the
// redirect and cancel callbacks. Reconciliation never errors out to the
// browser; worst case the shopper lands back on the cart.
func (h *Handlers) Return(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	red := h.Sessions.Reconcile(r.Context(), orderID, r.URL.Query().Get("domain"))
	http.Redirect(w, r, red.URL, http.StatusFound)
}

type orderView struct {
	OrderID   string         `json:"orderId"`
	Domain    string         `json:"domain,omitempty"`
	Amount    float64        `json:"amount"`
	Status    record.Status  `json:"status"`
	Details   map[string]any `json:"paymentDetails,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Order returns the stored payment record as JSON.
func (h *Handlers) Order(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	p, err := h.Sessions.FindPayment(r.Context(), orderID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": orderView{
		OrderID:   p.OrderID,
		Domain:    p.Domain,
		Amount:    p.Amount,
		Status:    p.Status,
		Details:   p.Details,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}})
}

// Webhook ingests gateway push notifications. It always acknowledges with
// 200 so the gateway stops retrying; any processing problem is recovered by
// the pull path.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Warn().Err(err).Msg("webhook body unreadable")
		common.JSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if !h.Replays.FirstDelivery(r.Context(), body) {
		h.Logger.Info().Msg("duplicate webhook delivery dropped")
		common.JSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	h.Sessions.HandleWebhook(r.Context(), body)
	common.JSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handlers) renderCheckout(w http.ResponseWriter, sess Session, iframe bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := checkoutPage.Execute(w, struct {
		CheckoutURL string
		Iframe      bool
	}{CheckoutURL: sess.CheckoutURL, Iframe: iframe})
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", sess.OrderID).Msg("checkout page render failed")
	}
}
