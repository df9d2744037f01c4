// Package memstore is an in-process orders.Store used by tests and local runs
// without Postgres. One mutex serializes everything, so WithinTx is trivially
// isolated; a failed transaction restores a snapshot.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/tracking"
)

type state struct {
	orders     map[string]orders.Order
	byTx       map[string]string // transaction id -> order id
	byTracking map[string]string // tracking id -> order id
	events     []tracking.Event
	products   map[string]inventory.Product
}

func newState() *state {
	return &state{
		orders:     map[string]orders.Order{},
		byTx:       map[string]string{},
		byTracking: map[string]string{},
		products:   map[string]inventory.Product{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.byTx {
		c.byTx[k] = v
	}
	for k, v := range s.byTracking {
		c.byTracking[k] = v
	}
	c.events = append([]tracking.Event(nil), s.events...)
	for k, v := range s.products {
		c.products[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// PutProduct seeds or replaces a catalog entry.
func (s *Store) PutProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Images = append([]string(nil), p.Images...)
	s.st.products[p.ID] = p
}

// RemoveProduct drops a catalog entry, as when the catalog owner delists it.
func (s *Store) RemoveProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.products, id)
}

func (s *Store) Orders() orders.Repository { return lockedOrders{s} }
func (s *Store) Ledger() tracking.Ledger { return lockedLedger{s} }
func (s *Store) Catalog() inventory.Catalog { return lockedCatalog{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(ctx, txView{s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// txView reads and writes state directly; the caller already holds the lock.
type txView struct{ st *state }

func (v txView) Orders() orders.Repository { return orderRepo{v.st} }
func (v txView) Ledger() tracking.Ledger { return ledger{v.st} }
func (v txView) Catalog() inventory.Catalog { return catalog{v.st} }

type orderRepo struct{ st *state }

func (r orderRepo) Insert(_ context.Context, o orders.Order) error {
	if _, ok := r.st.orders[o.ID]; ok {
		return fmt.Errorf("insert order %s: id already exists", o.ID)
	}
	if o.TransactionID != "" {
		if _, ok := r.st.byTx[o.TransactionID]; ok {
			return orders.ErrDuplicateTransaction
		}
	}
	if _, ok := r.st.byTracking[o.TrackingID]; ok {
		return fmt.Errorf("insert order %s: tracking id %s already exists", o.ID, o.TrackingID)
	}
	r.st.orders[o.ID] = o
	r.st.byTracking[o.TrackingID] = o.ID
	if o.TransactionID != "" {
		r.st.byTx[o.TransactionID] = o.ID
	}
	return nil
}

func (r orderRepo) FindByID(_ context.Context, id string) (orders.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (r orderRepo) FindByTrackingID(ctx context.Context, trackingID string) (orders.Order, error) {
	id, ok := r.st.byTracking[trackingID]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return r.FindByID(ctx, id)
}

func (r orderRepo) FindByTransactionID(ctx context.Context, transactionID string) (orders.Order, error) {
	id, ok := r.st.byTx[transactionID]
	if !ok || transactionID == "" {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return r.FindByID(ctx, id)
}

func (r orderRepo) FindByStatus(_ context.Context, status orders.Status) ([]orders.Order, error) {
	return r.filter(func(o orders.Order) bool { return o.Status == status }), nil
}

func (r orderRepo) FindByBuyerEmail(_ context.Context, email string) ([]orders.Order, error) {
	return r.filter(func(o orders.Order) bool { return o.Buyer.Email == email }), nil
}

// filter returns matches newest first, like the Postgres store.
func (r orderRepo) filter(keep func(orders.Order) bool) []orders.Order {
	out := []orders.Order{}
	for _, o := range r.st.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r orderRepo) UpdateStatus(_ context.Context, id string, change orders.StatusChange) (orders.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if o.Status != change.From {
		return orders.Order{}, fmt.Errorf("%w: order %s is %s, not %s", orders.ErrInvalidTransition, id, o.Status, change.From)
	}
	at := change.At
	o.Status = change.To
	o.UpdatedAt = at
	switch change.To {
	case orders.StatusApproved:
		o.ApprovedAt = &at
		o.ApprovedBy = change.ApprovedBy
	case orders.StatusRejected:
		o.RejectedAt = &at
	}
	r.st.orders[id] = o
	return o, nil
}

func (r orderRepo) UpdateFields(_ context.Context, id string, patch orders.Patch, at time.Time) (orders.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	o = patch.Apply(o, at)
	r.st.orders[id] = o
	return o, nil
}

func (r orderRepo) Delete(_ context.Context, id string) error {
	o, ok := r.st.orders[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	delete(r.st.orders, id)
	delete(r.st.byTracking, o.TrackingID)
	if o.TransactionID != "" {
		delete(r.st.byTx, o.TransactionID)
	}
	return nil
}

type ledger struct{ st *state }

func (l ledger) Append(_ context.Context, ev tracking.Event) error {
	l.st.events = append(l.st.events, ev)
	return nil
}

func (l ledger) ByOrderID(_ context.Context, orderID string) ([]tracking.Event, error) {
	return l.collect(func(ev tracking.Event) bool { return ev.OrderID == orderID }), nil
}

func (l ledger) ByTrackingID(_ context.Context, trackingID string) ([]tracking.Event, error) {
	return l.collect(func(ev tracking.Event) bool { return ev.TrackingID == trackingID }), nil
}

func (l ledger) collect(keep func(tracking.Event) bool) []tracking.Event {
	var out []tracking.Event
	for _, ev := range l.st.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

type catalog struct{ st *state }

func (c catalog) GetProduct(_ context.Context, id string) (inventory.Product, error) {
	p, ok := c.st.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	p.Images = append([]string(nil), p.Images...)
	return p, nil
}

func (c catalog) AdjustQuantity(_ context.Context, id string, delta int) (int, error) {
	p, ok := c.st.products[id]
	if !ok {
		return 0, inventory.ErrProductNotFound
	}
	p.AvailableQuantity += delta
	p.UpdatedAt = time.Now().UTC()
	c.st.products[id] = p
	return p.AvailableQuantity, nil
}

// The locked* wrappers take the store lock for a single call outside WithinTx.

type lockedOrders struct{ s *Store }

func (l lockedOrders) repo() orderRepo { return orderRepo{l.s.st} }

func (l lockedOrders) Insert(ctx context.Context, o orders.Order) error {
	return l.s.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error { return tx.Orders().Insert(ctx, o) })
}

func (l lockedOrders) FindByID(ctx context.Context, id string) (orders.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().FindByID(ctx, id)
}

func (l lockedOrders) FindByTrackingID(ctx context.Context, trackingID string) (orders.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().FindByTrackingID(ctx, trackingID)
}

func (l lockedOrders) FindByTransactionID(ctx context.Context, transactionID string) (orders.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().FindByTransactionID(ctx, transactionID)
}

func (l lockedOrders) FindByStatus(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().FindByStatus(ctx, status)
}

func (l lockedOrders) FindByBuyerEmail(ctx context.Context, email string) ([]orders.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().FindByBuyerEmail(ctx, email)
}

func (l lockedOrders) UpdateStatus(ctx context.Context, id string, change orders.StatusChange) (orders.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().UpdateStatus(ctx, id, change)
}

func (l lockedOrders) UpdateFields(ctx context.Context, id string, patch orders.Patch, at time.Time) (orders.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().UpdateFields(ctx, id, patch, at)
}

func (l lockedOrders) Delete(ctx context.Context, id string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.repo().Delete(ctx, id)
}

type lockedLedger struct{ s *Store }

func (l lockedLedger) Append(ctx context.Context, ev tracking.Event) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s.st}.Append(ctx, ev)
}

func (l lockedLedger) ByOrderID(ctx context.Context, orderID string) ([]tracking.Event, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s.st}.ByOrderID(ctx, orderID)
}

func (l lockedLedger) ByTrackingID(ctx context.Context, trackingID string) ([]tracking.Event, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s.st}.ByTrackingID(ctx, trackingID)
}

type lockedCatalog struct{ s *Store }

func (l lockedCatalog) GetProduct(ctx context.Context, id string) (inventory.Product, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return catalog{l.s.st}.GetProduct(ctx, id)
}

func (l lockedCatalog) AdjustQuantity(ctx context.Context, id string, delta int) (int, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return catalog{l.s.st}.AdjustQuantity(ctx, id, delta)
}
