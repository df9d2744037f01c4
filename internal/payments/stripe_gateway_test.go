package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

type stubSessions struct {
	newFn func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getFn func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func (s *stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.newFn(params)
}

func (s *stubSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.getFn(id, params)
}

func TestConfirmPaymentMapsCompletedSession(t *testing.T) {
	sessions := &stubSessions{getFn: func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		require.Equal(t, "cs_123", id)
		require.Contains(t, params.Expand, stripe.String("payment_intent"))
		return &stripe.CheckoutSession{
			ID:            "cs_123",
			Status:        stripe.CheckoutSessionStatusComplete,
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_777"},
			AmountTotal:   2000,
			Currency:      "usd",
			CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
				Name:  "Rahim",
				Email: "rahim@example.com",
			},
			Metadata: map[string]string{"productId": "p1", "customer": "other@example.com"},
		}, nil
	}}
	gw, err := NewStripeGateway(StripeConfig{Sessions: sessions})
	require.NoError(t, err)

	conf, err := gw.ConfirmPayment(context.Background(), " cs_123 ")
	require.NoError(t, err)
	require.True(t, conf.Complete())
	require.Equal(t, "pi_777", conf.PaymentReference)
	require.Equal(t, "Rahim", conf.BuyerName)
	require.Equal(t, "rahim@example.com", conf.BuyerEmail)
	require.Equal(t, "p1", conf.ProductRef)
	require.Equal(t, 1, conf.Quantity)
	require.True(t, decimal.RequireFromString("20.00").Equal(conf.AmountTotal))
	require.Equal(t, "USD", conf.Currency)
}

func TestConfirmPaymentIncompleteFallsBackToMetadata(t *testing.T) {
	sessions := &stubSessions{getFn: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{
			ID:       "cs_1",
			Status:   stripe.CheckoutSessionStatusOpen,
			Metadata: map[string]string{"productId": "p9", "customer": "meta@example.com", "quantity": "3"},
		}, nil
	}}
	gw, err := NewStripeGateway(StripeConfig{Sessions: sessions})
	require.NoError(t, err)

	conf, err := gw.ConfirmPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	require.False(t, conf.Complete())
	require.Empty(t, conf.PaymentReference)
	require.Equal(t, "meta@example.com", conf.BuyerEmail)
	require.Equal(t, 3, conf.Quantity)
}

func TestConfirmPaymentNotFound(t *testing.T) {
	sessions := &stubSessions{getFn: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such checkout.session"}
	}}
	gw, err := NewStripeGateway(StripeConfig{Sessions: sessions})
	require.NoError(t, err)

	_, err = gw.ConfirmPayment(context.Background(), "cs_gone")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = gw.ConfirmPayment(context.Background(), "  ")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConfirmPaymentUpstreamFailure(t *testing.T) {
	boom := errors.New("connection reset")
	sessions := &stubSessions{getFn: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, boom
	}}
	gw, err := NewStripeGateway(StripeConfig{Sessions: sessions})
	require.NoError(t, err)

	_, err = gw.ConfirmPayment(context.Background(), "cs_1")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateCheckoutSessionBuildsLineItem(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	sessions := &stubSessions{newFn: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.test/cs_new"}, nil
	}}
	gw, err := NewStripeGateway(StripeConfig{Sessions: sessions, Currency: "USD"})
	require.NoError(t, err)

	sess, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		ProductID:     "p1",
		Title:         "Denim Jacket",
		Images:        []string{"https://img/1.jpg"},
		Price:         decimal.RequireFromString("19.99"),
		CustomerEmail: "a@x.com",
		SuccessURL:    "https://shop/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://shop/product/p1",
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.stripe.test/cs_new", sess.URL)

	require.Len(t, captured.LineItems, 1)
	line := captured.LineItems[0]
	require.EqualValues(t, 1999, *line.PriceData.UnitAmount)
	require.Equal(t, "usd", *line.PriceData.Currency)
	require.Equal(t, "Denim Jacket", *line.PriceData.ProductData.Name)
	require.Equal(t, "p1", captured.Metadata["productId"])
	require.Equal(t, "a@x.com", *captured.CustomerEmail)
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{})
	require.Error(t, err)
}

func signPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestParseWebhookCompletedSession(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_42","object":"checkout.session"}}}`)
	sig := signPayload(t, payload, "whsec_test")

	id, ok, err := ParseWebhook(payload, sig, "whsec_test")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cs_42", id)
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	payload := []byte(`{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)
	sig := signPayload(t, payload, "whsec_test")

	_, ok, err := ParseWebhook(payload, sig, "whsec_test")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	sig := signPayload(t, payload, "whsec_other")

	_, _, err := ParseWebhook(payload, sig, "whsec_test")
	require.Error(t, err)
}
