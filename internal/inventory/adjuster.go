package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Adjuster decrements stock when an order is created. There is no stock gate:
// quantities may go negative and that is logged as an oversell.
type Adjuster struct {
	catalog Catalog
	logger  *zap.Logger
}

func NewAdjuster(catalog Catalog, logger *zap.Logger) *Adjuster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adjuster{catalog: catalog, logger: logger}
}

func (a *Adjuster) Decrement(ctx context.Context, productID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("decrement %s: amount must be positive, got %d", productID, amount)
	}
	remaining, err := a.catalog.AdjustQuantity(ctx, productID, -amount)
	if err != nil {
		return 0, fmt.Errorf("decrement %s: %w", productID, err)
	}
	if remaining < 0 {
		a.logger.Warn("inventory oversold",
			zap.String("product_id", productID),
			zap.Int("amount", amount),
			zap.Int("available_quantity", remaining))
	}
	return remaining, nil
}
