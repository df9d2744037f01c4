// Package payments wraps the card payment provider. The order core only needs
// a confirmation for a finished checkout session; creating the session is a
// convenience for the checkout page.
package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ConfirmationStatus mirrors the provider's checkout session status.
type ConfirmationStatus string

const (
	StatusComplete   ConfirmationStatus = "complete"
	StatusIncomplete ConfirmationStatus = "incomplete"
)

// ErrSessionNotFound is returned when the session reference is unknown or expired.
var ErrSessionNotFound = errors.New("payments: checkout session not found")

// Confirmation is what the provider tells us about a checkout session.
type Confirmation struct {
	SessionID        string
	Status           ConfirmationStatus
	PaymentReference string
	BuyerName        string
	BuyerEmail       string
	ProductRef       string
	Quantity         int
	AmountTotal      decimal.Decimal
	Currency         string
}

// Complete reports whether the charge went through.
func (c Confirmation) Complete() bool {
	return c.Status == StatusComplete
}

// CheckoutRequest describes the single-product checkout the storefront starts.
type CheckoutRequest struct {
	ProductID     string
	Title         string
	Description   string
	Images        []string
	Price         decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerName  string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is returned to the client for redirecting to the hosted page.
type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway is the payment confirmation boundary.
type Gateway interface {
	ConfirmPayment(ctx context.Context, sessionRef string) (Confirmation, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}
