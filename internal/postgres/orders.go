package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/garments-tracker/internal/orders"
)

type OrderRepo struct{ q querier }

const orderColumns = `id, tracking_id, product_id, product_name, product_category, product_image,
	product_price, buyer_name, buyer_email, quantity, total_price, payment_method, payment_status,
	COALESCE(transaction_id, ''), status, approved_by, approved_at, rejected_at, created_at, updated_at`

func scanOrder(row rowScanner) (orders.Order, error) {
	var o orders.Order
	err := row.Scan(
		&o.ID, &o.TrackingID, &o.ProductID, &o.Product.Name, &o.Product.Category, &o.Product.Image,
		&o.Product.Price, &o.Buyer.Name, &o.Buyer.Email, &o.Quantity, &o.TotalPrice,
		&o.PaymentMethod, &o.PaymentStatus, &o.TransactionID, &o.Status, &o.ApprovedBy,
		&o.ApprovedAt, &o.RejectedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, err
}

func (r *OrderRepo) one(ctx context.Context, where string, arg any) (orders.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
}

func (r *OrderRepo) many(ctx context.Context, where string, arg any) ([]orders.Order, error) {
	rows, err := r.q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY created_at DESC, id DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Insert relies on the partial unique index on transaction_id: a conflicting
// row makes DO NOTHING return no id.
func (r *OrderRepo) Insert(ctx context.Context, o orders.Order) error {
	var id string
	err := r.q.QueryRow(ctx, `
		INSERT INTO orders(id, tracking_id, product_id, product_name, product_category, product_image,
			product_price, buyer_name, buyer_email, quantity, total_price, payment_method, payment_status,
			transaction_id, status, approved_by, approved_at, rejected_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14,''),$15,$16,$17,$18,$19,$20)
		ON CONFLICT (transaction_id) WHERE transaction_id IS NOT NULL DO NOTHING
		RETURNING id`,
		o.ID, o.TrackingID, o.ProductID, o.Product.Name, o.Product.Category, o.Product.Image,
		o.Product.Price, o.Buyer.Name, o.Buyer.Email, o.Quantity, o.TotalPrice,
		string(o.PaymentMethod), string(o.PaymentStatus), o.TransactionID, string(o.Status), o.ApprovedBy,
		o.ApprovedAt, o.RejectedAt, o.CreatedAt, o.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ErrDuplicateTransaction
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepo) FindByID(ctx context.Context, id string) (orders.Order, error) {
	return r.one(ctx, `id=$1`, id)
}

func (r *OrderRepo) FindByTrackingID(ctx context.Context, trackingID string) (orders.Order, error) {
	return r.one(ctx, `tracking_id=$1`, trackingID)
}

func (r *OrderRepo) FindByTransactionID(ctx context.Context, transactionID string) (orders.Order, error) {
	if transactionID == "" {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return r.one(ctx, `transaction_id=$1`, transactionID)
}

func (r *OrderRepo) FindByStatus(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	return r.many(ctx, `status=$1`, string(status))
}

func (r *OrderRepo) FindByBuyerEmail(ctx context.Context, email string) ([]orders.Order, error) {
	return r.many(ctx, `buyer_email=$1`, email)
}

// UpdateStatus only matches while the row is still in change.From, so two
// concurrent transitions cannot both win.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id string, change orders.StatusChange) (orders.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, `
		UPDATE orders SET
			status      = $3,
			updated_at  = $4,
			approved_at = CASE WHEN $3 = 'approved' THEN $4 ELSE approved_at END,
			approved_by = CASE WHEN $3 = 'approved' THEN $5 ELSE approved_by END,
			rejected_at = CASE WHEN $3 = 'rejected' THEN $4 ELSE rejected_at END
		WHERE id=$1 AND status=$2
		RETURNING `+orderColumns,
		id, string(change.From), string(change.To), change.At, change.ApprovedBy,
	))
	if !errors.Is(err, orders.ErrOrderNotFound) {
		return o, err
	}
	current, ferr := r.FindByID(ctx, id)
	if ferr != nil {
		return orders.Order{}, ferr
	}
	return orders.Order{}, fmt.Errorf("%w: order %s is %s, not %s", orders.ErrInvalidTransition, id, current.Status, change.From)
}

func (r *OrderRepo) UpdateFields(ctx context.Context, id string, patch orders.Patch, at time.Time) (orders.Order, error) {
	// Apply on a blank order to reuse the patch's normalization.
	norm := patch.Apply(orders.Order{}, at)
	var name, email *string
	if patch.BuyerName != nil {
		name = &norm.Buyer.Name
	}
	if patch.BuyerEmail != nil {
		email = &norm.Buyer.Email
	}
	return scanOrder(r.q.QueryRow(ctx, `
		UPDATE orders SET
			buyer_name  = COALESCE($2, buyer_name),
			buyer_email = COALESCE($3, buyer_email),
			updated_at  = $4
		WHERE id=$1
		RETURNING `+orderColumns,
		id, name, email, at,
	))
}

func (r *OrderRepo) Delete(ctx context.Context, id string) error {
	ct, err := r.q.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}
