package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"
)

const (
	metaProductID = "productId"
	metaCustomer  = "customer"
	metaQuantity  = "quantity"

	eventCheckoutSessionCompleted = "checkout.session.completed"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures StripeGateway. Sessions overrides the Stripe client (tests).
type StripeConfig struct {
	APIKey   string
	Currency string
	Logger   *zap.Logger
	Sessions stripeSessionAPI
}

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	sessions stripeSessionAPI
	currency string
	logger   *zap.Logger
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(key, nil).CheckoutSessions
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{sessions: sessions, currency: currency, logger: logger}, nil
}

func (g *StripeGateway) ConfirmPayment(ctx context.Context, sessionRef string) (Confirmation, error) {
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return Confirmation{}, ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := g.sessions.Get(sessionRef, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return Confirmation{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionRef)
		}
		return Confirmation{}, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	conf := confirmationFromSession(sess)
	g.logger.Debug("stripe session retrieved",
		zap.String("session_id", conf.SessionID),
		zap.String("status", string(conf.Status)),
		zap.String("payment_reference", conf.PaymentReference))
	return conf, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return CheckoutSession{}, errors.New("stripe: product id is required")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = g.currency
	}

	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.Title),
	}
	if req.Description != "" {
		productData.Description = stripe.String(req.Description)
	}
	if len(req.Images) > 0 {
		productData.Images = stripe.StringSlice(req.Images)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(toMinorUnits(req.Price)),
				ProductData: productData,
			},
		}},
		Metadata: map[string]string{
			metaProductID: req.ProductID,
			metaCustomer:  req.CustomerEmail,
		},
	}
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	sess, err := g.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	g.logger.Info("stripe session created",
		zap.String("session_id", sess.ID),
		zap.String("product_id", req.ProductID))
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook verifies a Stripe webhook and returns the checkout session id
// for completed sessions. ok is false for every other event type.
func ParseWebhook(payload []byte, signature, secret string) (sessionID string, ok bool, err error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", false, fmt.Errorf("stripe: verify webhook: %w", err)
	}
	if string(ev.Type) != eventCheckoutSessionCompleted || ev.Data == nil {
		return "", false, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return "", false, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	if sess.ID == "" {
		return "", false, errors.New("stripe: checkout session without id")
	}
	return sess.ID, true, nil
}

func confirmationFromSession(sess *stripe.CheckoutSession) Confirmation {
	conf := Confirmation{
		SessionID:   sess.ID,
		Status:      StatusIncomplete,
		BuyerEmail:  sess.CustomerEmail,
		Quantity:    1,
		AmountTotal: decimal.New(sess.AmountTotal, -2),
		Currency:    strings.ToUpper(string(sess.Currency)),
	}
	if sess.Status == stripe.CheckoutSessionStatusComplete {
		conf.Status = StatusComplete
	}
	if sess.PaymentIntent != nil {
		conf.PaymentReference = sess.PaymentIntent.ID
	}
	if d := sess.CustomerDetails; d != nil {
		conf.BuyerName = d.Name
		if d.Email != "" {
			conf.BuyerEmail = d.Email
		}
	}
	if sess.Metadata != nil {
		conf.ProductRef = sess.Metadata[metaProductID]
		if conf.BuyerEmail == "" {
			conf.BuyerEmail = sess.Metadata[metaCustomer]
		}
		if q, err := strconv.Atoi(sess.Metadata[metaQuantity]); err == nil && q > 0 {
			conf.Quantity = q
		}
	}
	return conf
}

func toMinorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}
