package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/payments"
	"github.com/ariefcatur/garments-tracker/internal/postgres"
	"github.com/ariefcatur/garments-tracker/internal/tracking"
)

func newStore(t *testing.T) (*postgres.Store, string) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))

	store := postgres.NewStore(pool)
	productID := "it-" + uuid.NewString()
	require.NoError(t, store.SeedProduct(ctx, inventory.Product{
		ID:                productID,
		Title:             "Linen Trousers",
		Category:          "trousers",
		Price:             decimal.RequireFromString("35.50"),
		AvailableQuantity: 3,
		Images:            []string{"https://img.example.com/linen.jpg"},
	}))
	return store, productID
}

type confirmAll struct{ productID, ref string }

func (c confirmAll) ConfirmPayment(_ context.Context, session string) (payments.Confirmation, error) {
	return payments.Confirmation{
		SessionID:        session,
		Status:           payments.StatusComplete,
		PaymentReference: c.ref,
		BuyerName:        "Sari",
		BuyerEmail:       "sari@example.com",
		ProductRef:       c.productID,
		Quantity:         1,
		AmountTotal:      decimal.RequireFromString("35.50"),
	}, nil
}

func (confirmAll) CreateCheckoutSession(context.Context, payments.CheckoutRequest) (payments.CheckoutSession, error) {
	return payments.CheckoutSession{}, errors.New("not used")
}

func TestPostgresConcurrentConfirmations(t *testing.T) {
	store, productID := newStore(t)
	ctx := context.Background()
	ref := "pi_it_" + uuid.NewString()

	engine, err := orders.NewEngine(orders.EngineDeps{Store: store, Gateway: confirmAll{productID: productID, ref: ref}})
	require.NoError(t, err)

	const n = 6
	results := make([]orders.CreateResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.CreateFromPaymentConfirmation(ctx, "cs_it")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Success() {
			created++
		}
	}
	require.Equal(t, 1, created)

	p, err := store.Catalog().GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, 2, p.AvailableQuantity)

	o, err := store.Orders().FindByTransactionID(ctx, ref)
	require.NoError(t, err)
	require.True(t, o.TotalPrice.Equal(decimal.RequireFromString("35.50")))
	events, err := store.Ledger().ByTrackingID(ctx, o.TrackingID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPostgresStatusAndRollback(t *testing.T) {
	store, productID := newStore(t)
	ctx := context.Background()
	engine, err := orders.NewEngine(orders.EngineDeps{Store: store})
	require.NoError(t, err)

	o, err := engine.CreateCashOnDelivery(ctx, orders.CashOnDeliveryRequest{
		ProductID: productID, Quantity: 5, Buyer: orders.Buyer{Name: "Sari", Email: "sari@example.com"},
	})
	require.NoError(t, err)
	require.Empty(t, o.TransactionID)

	p, err := store.Catalog().GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, -2, p.AvailableQuantity)

	approved, err := engine.Transition(ctx, o.ID, "approved", "mgr@example.com")
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	_, err = engine.Transition(ctx, o.ID, "rejected", "mgr@example.com")
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	boom := errors.New("boom")
	err = store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if _, err := tx.Catalog().AdjustQuantity(ctx, productID, -10); err != nil {
			return err
		}
		if err := tx.Ledger().Append(ctx, tracking.NewEvent(o.ID, o.TrackingID, "Lost", "", "", time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err = store.Catalog().GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, -2, p.AvailableQuantity)
	events, err := store.Ledger().ByOrderID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, engine.Cancel(ctx, o.ID))
	_, err = store.Orders().FindByID(ctx, o.ID)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}
