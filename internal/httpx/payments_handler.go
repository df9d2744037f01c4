package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/garments-tracker/internal/observability"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/payments"
	"github.com/ariefcatur/garments-tracker/internal/redisx"
)

// WebhookParser verifies a provider webhook and extracts a completed session id.
type WebhookParser func(payload []byte, signature, secret string) (sessionID string, ok bool, err error)

type PaymentsHandler struct {
	Engine  *orders.Engine
	Gateway payments.Gateway
	Cache   Cache
	// Events receives completed sessions from the webhook. When nil the
	// webhook confirms the payment inline.
	Events        orders.Publisher
	ParseWebhook  WebhookParser
	WebhookSecret string
	ClientDomain  string
	Currency      string
	Service       string
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/create-checkout-session", h.createCheckoutSession)
	r.Post("/payment-success", h.paymentSuccess)
	r.Post("/webhooks/stripe", h.stripeWebhook)
}

type checkoutReq struct {
	ProductID     string `json:"productId"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
}

// statusCancelled reports a paid session whose order was cancelled since.
const statusCancelled = "cancelled"

type confirmResp struct {
	Success       bool   `json:"success"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Status        string `json:"status"`
	OrderID       string `json:"orderId,omitempty"`
	TrackingID    string `json:"trackingId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

func (h *PaymentsHandler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, newError("invalid_json", err.Error(), http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		respondErr(ctx, w, fmt.Errorf("%w: productId is required", orders.ErrInvalidInput))
		return
	}
	if h.Gateway == nil {
		respondErr(ctx, w, fmt.Errorf("%w: card payments are not configured", orders.ErrUpstreamUnavailable))
		return
	}
	p, err := h.Engine.Product(ctx, req.ProductID)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	sess, err := h.Gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		ProductID:     p.ID,
		Title:         p.Title,
		Description:   p.Description,
		Images:        p.Images,
		Price:         p.Price,
		Currency:      h.Currency,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		SuccessURL:    h.ClientDomain + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     h.ClientDomain + "/product/" + url.PathEscape(p.ID),
	})
	if err != nil {
		respondErr(ctx, w, fmt.Errorf("%w: %v", orders.ErrUpstreamUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": sess.ID, "url": sess.URL})
}

// paymentSuccess is hit by the storefront after the hosted checkout redirects
// back. Browsers reload this page, so repeats are expected.
func (h *PaymentsHandler) paymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(ctx, w, newError("invalid_json", err.Error(), http.StatusBadRequest))
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.URL.Query().Get("session_id")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		respondErr(ctx, w, fmt.Errorf("%w: sessionId is required", orders.ErrInvalidInput))
		return
	}

	key := fmt.Sprintf(redisx.KeyIdemPayment, sessionID)
	if cached, ok := h.replaySession(ctx, key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	res, err := h.Engine.CreateFromPaymentConfirmation(ctx, sessionID)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	resp := confirmResp{
		Success:       res.Success(),
		Duplicate:     res.Duplicate(),
		Status:        res.Outcome.String(),
		OrderID:       res.Order.ID,
		TrackingID:    res.Order.TrackingID,
		TransactionID: res.Order.TransactionID,
	}
	if res.Outcome == orders.OutcomeNotPayable {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	h.rememberSession(ctx, key, resp)
	code := http.StatusOK
	if res.Success() {
		code = http.StatusCreated
	}
	writeJSON(w, code, resp)
}

// replaySession answers a repeat from the cache. The order is re-read first:
// one cancelled since the first call is reported as cancelled instead of
// replaying a tracking id that no longer resolves.
func (h *PaymentsHandler) replaySession(ctx context.Context, key string) (confirmResp, bool) {
	if h.Cache == nil {
		return confirmResp{}, false
	}
	s, ok, err := h.Cache.Get(ctx, key)
	if err != nil || !ok {
		return confirmResp{}, false
	}
	var cached confirmResp
	if json.Unmarshal([]byte(s), &cached) != nil || cached.TrackingID == "" {
		return confirmResp{}, false
	}
	if _, err := h.Engine.GetOrder(ctx, cached.OrderID); err != nil {
		if !errors.Is(err, orders.ErrOrderNotFound) {
			return confirmResp{}, false
		}
		return confirmResp{
			Duplicate:     true,
			Status:        statusCancelled,
			TransactionID: cached.TransactionID,
		}, true
	}
	cached.Success, cached.Duplicate, cached.Status = false, true, orders.OutcomeAlreadyExists.String()
	return cached, true
}

func (h *PaymentsHandler) rememberSession(ctx context.Context, key string, resp confirmResp) {
	if h.Cache == nil {
		return
	}
	b, _ := json.Marshal(resp)
	if err := h.Cache.Set(ctx, key, string(b), redisx.TTLIdempotency); err != nil {
		observability.FromContext(ctx).Warn("payment idempotency cache write", zap.Error(err))
	}
}

func (h *PaymentsHandler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx)
	if h.ParseWebhook == nil || h.WebhookSecret == "" {
		writeError(ctx, w, newError("webhook_disabled", "webhook secret not configured", http.StatusServiceUnavailable))
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(ctx, w, newError("invalid_body", err.Error(), http.StatusBadRequest))
		return
	}
	sessionID, ok, err := h.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), h.WebhookSecret)
	if err != nil {
		log.Warn("stripe webhook rejected", zap.Error(err))
		writeError(ctx, w, newError("invalid_signature", "webhook verification failed", http.StatusBadRequest))
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if h.Events == nil {
		if _, err := h.Engine.CreateFromPaymentConfirmation(ctx, sessionID); err != nil {
			respondErr(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	env := orders.NewEnvelope(orders.EventPaymentSessionComplete, h.Service, sessionID,
		orders.PaymentSessionCompletedPayload{SessionID: sessionID}, time.Now())
	if err := h.Events.Publish(ctx, orders.TopicPaymentSessionComplete, env); err != nil {
		// 5xx makes Stripe redeliver.
		log.Error("forward checkout session", zap.String("session_id", sessionID), zap.Error(err))
		writeError(ctx, w, newError("unavailable", "could not queue event", http.StatusServiceUnavailable))
		return
	}
	log.Info("checkout session queued", zap.String("session_id", sessionID), zap.String("event_id", env.EventID))
	writeJSON(w, http.StatusAccepted, map[string]bool{"received": true})
}
