package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found")

// Product is the catalog record. The order core reads it and only ever writes
// AvailableQuantity.
type Product struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	Category          string          `json:"category"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int             `json:"availableQuantity"`
	Images            []string        `json:"images"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// FirstImage is what an order snapshot keeps.
func (p Product) FirstImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Catalog is the product boundary. AdjustQuantity applies delta without any
// floor and returns the resulting quantity.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	AdjustQuantity(ctx context.Context, productID string, delta int) (int, error)
}
