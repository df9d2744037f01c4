package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
)

type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "CardPayment"
	PaymentCashOnDelivery PaymentMethod = "CashOnDelivery"
)

type PaymentStatus string

const (
	PaymentPaid PaymentStatus = "paid"
	PaymentCOD  PaymentStatus = "cod"
)

// ProductSnapshot is copied from the catalog at order time and never refreshed.
type ProductSnapshot struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Image    string          `json:"image,omitempty"`
	Price    decimal.Decimal `json:"price"`
}

type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (b Buyer) normalized() Buyer {
	return Buyer{
		Name:  strings.TrimSpace(b.Name),
		Email: strings.ToLower(strings.TrimSpace(b.Email)),
	}
}

type Order struct {
	ID            string          `json:"id"`
	TrackingID    string          `json:"trackingId"`
	ProductID     string          `json:"productId"`
	Product       ProductSnapshot `json:"product"`
	Buyer         Buyer           `json:"buyer"`
	Quantity      int             `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	// TransactionID is the external payment reference; empty for COD.
	TransactionID string     `json:"transactionId,omitempty"`
	Status        Status     `json:"status"` // see status.go
	ApprovedBy    string     `json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	RejectedAt    *time.Time `json:"rejectedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func snapshotOf(p inventory.Product) ProductSnapshot {
	return ProductSnapshot{
		Name:     p.Title,
		Category: p.Category,
		Image:    p.FirstImage(),
		Price:    p.Price,
	}
}

// StatusChange is a conditional update: it applies only while the order is in From.
type StatusChange struct {
	From       Status
	To         Status
	ApprovedBy string
	At         time.Time
}

// Patch carries manager edits. Nil fields are left alone. Status is not patchable.
type Patch struct {
	BuyerName  *string `json:"buyerName,omitempty"`
	BuyerEmail *string `json:"buyerEmail,omitempty"`
}

func (p Patch) Empty() bool {
	return p.BuyerName == nil && p.BuyerEmail == nil
}

// Apply returns o with the patch applied.
func (p Patch) Apply(o Order, at time.Time) Order {
	if p.BuyerName != nil {
		o.Buyer.Name = strings.TrimSpace(*p.BuyerName)
	}
	if p.BuyerEmail != nil {
		o.Buyer.Email = strings.ToLower(strings.TrimSpace(*p.BuyerEmail))
	}
	o.UpdatedAt = at
	return o
}

// CashOnDeliveryRequest is the COD checkout form.
type CashOnDeliveryRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Buyer     Buyer  `json:"buyer"`
}

// TrackingUpdate is a manual ledger entry.
type TrackingUpdate struct {
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	Note     string `json:"note,omitempty"`
}
