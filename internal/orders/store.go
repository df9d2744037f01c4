package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
	"github.com/ariefcatur/garments-tracker/internal/tracking"
)

// Repository is the order store. Finders return ErrOrderNotFound when nothing
// matches; list finders return an empty slice instead.
type Repository interface {
	// Insert fails with ErrDuplicateTransaction when another order already
	// holds o.TransactionID.
	Insert(ctx context.Context, o Order) error
	FindByID(ctx context.Context, id string) (Order, error)
	FindByTrackingID(ctx context.Context, trackingID string) (Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (Order, error)
	FindByStatus(ctx context.Context, status Status) ([]Order, error)
	FindByBuyerEmail(ctx context.Context, email string) ([]Order, error)
	// UpdateStatus fails with ErrInvalidTransition when the order is no longer in change.From.
	UpdateStatus(ctx context.Context, id string, change StatusChange) (Order, error)
	UpdateFields(ctx context.Context, id string, patch Patch, at time.Time) (Order, error)
	Delete(ctx context.Context, id string) error
}

// Tx is the set of stores visible inside one transaction.
type Tx interface {
	Orders() Repository
	Ledger() tracking.Ledger
	Catalog() inventory.Catalog
}

// Store exposes the same stores outside a transaction plus WithinTx. fn must
// only use the Tx it is given; an error from fn rolls everything back.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
