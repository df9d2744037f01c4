package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
	"github.com/ariefcatur/garments-tracker/internal/payments"
	"github.com/ariefcatur/garments-tracker/internal/tracking"
)

// Outcome tags a CreateResult.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeAlreadyExists
	OutcomeNotPayable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeNotPayable:
		return "not_payable"
	default:
		return "unknown"
	}
}

// CreateResult is the result of a card-paid creation. Order is set for
// Created and AlreadyExists, zero for NotPayable.
type CreateResult struct {
	Outcome Outcome
	Order   Order
}

func (r CreateResult) Success() bool   { return r.Outcome == OutcomeCreated }
func (r CreateResult) Duplicate() bool { return r.Outcome == OutcomeAlreadyExists }

type EngineDeps struct {
	Store   Store
	Gateway payments.Gateway
	Events  Publisher
	Logger  *zap.Logger
	// Service is stamped on published envelopes as the producer.
	Service       string
	Clock         func() time.Time
	NewID         func() string
	NewTrackingID func(time.Time) string
	// TrackTransitions appends an "Order Approved"/"Order Rejected" ledger
	// event in the same transaction as the status change.
	TrackTransitions bool
}

// Engine runs the order lifecycle: creation from a card payment or COD,
// approve/reject, and the tracking ledger.
type Engine struct {
	store            Store
	gateway          payments.Gateway
	events           Publisher
	logger           *zap.Logger
	service          string
	clock            func() time.Time
	newID            func() string
	newTrackingID    func(time.Time) string
	trackTransitions bool
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("order engine: store is required")
	}
	e := &Engine{
		store:            deps.Store,
		gateway:          deps.Gateway,
		events:           deps.Events,
		logger:           deps.Logger,
		service:          deps.Service,
		clock:            deps.Clock,
		newID:            deps.NewID,
		newTrackingID:    deps.NewTrackingID,
		trackTransitions: deps.TrackTransitions,
	}
	if e.events == nil {
		e.events = nopPublisher{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.service == "" {
		e.service = "order-api"
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.newTrackingID == nil {
		e.newTrackingID = NewTrackingID
	}
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// CreateFromPaymentConfirmation turns a finished checkout session into an
// order. A second call for the same payment reference returns
// OutcomeAlreadyExists with the existing order and has no side effects.
func (e *Engine) CreateFromPaymentConfirmation(ctx context.Context, sessionRef string) (CreateResult, error) {
	if e.gateway == nil {
		return CreateResult{}, fmt.Errorf("%w: no payment gateway configured", ErrUpstreamUnavailable)
	}
	conf, err := e.gateway.ConfirmPayment(ctx, sessionRef)
	if err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return CreateResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return CreateResult{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	// The duplicate check comes first so a replay still resolves after the
	// product has left the catalog.
	if conf.PaymentReference != "" {
		existing, err := e.store.Orders().FindByTransactionID(ctx, conf.PaymentReference)
		switch {
		case err == nil:
			e.logger.Info("payment already processed",
				zap.String("transaction_id", conf.PaymentReference),
				zap.String("tracking_id", existing.TrackingID))
			return CreateResult{Outcome: OutcomeAlreadyExists, Order: existing}, nil
		case !errors.Is(err, ErrOrderNotFound):
			return CreateResult{}, err
		}
	}

	if !conf.Complete() {
		return CreateResult{Outcome: OutcomeNotPayable}, nil
	}
	product, err := e.store.Catalog().GetProduct(ctx, conf.ProductRef)
	if err != nil {
		return CreateResult{}, err
	}
	if conf.PaymentReference == "" {
		return CreateResult{}, fmt.Errorf("%w: completed session %s has no payment reference", ErrInvalidInput, conf.SessionID)
	}
	buyer := Buyer{Name: conf.BuyerName, Email: conf.BuyerEmail}.normalized()
	if buyer.Email == "" {
		return CreateResult{}, fmt.Errorf("%w: completed session %s has no buyer email", ErrInvalidInput, conf.SessionID)
	}

	qty := conf.Quantity
	if qty <= 0 {
		qty = 1
	}
	order := e.newOrder(product, buyer, qty, PaymentCard, PaymentPaid, conf.PaymentReference)
	if !conf.AmountTotal.IsZero() && !conf.AmountTotal.Equal(order.TotalPrice) {
		e.logger.Warn("charged amount differs from catalog price",
			zap.String("transaction_id", conf.PaymentReference),
			zap.String("charged", conf.AmountTotal.StringFixed(2)),
			zap.String("computed", order.TotalPrice.StringFixed(2)))
	}

	err = e.persist(ctx, order, tracking.StatusOrderCreated)
	if errors.Is(err, ErrDuplicateTransaction) {
		// Lost the race against a concurrent delivery of the same payment.
		existing, ferr := e.store.Orders().FindByTransactionID(ctx, conf.PaymentReference)
		if ferr != nil {
			return CreateResult{}, ferr
		}
		e.logger.Info("payment processed concurrently",
			zap.String("transaction_id", conf.PaymentReference),
			zap.String("tracking_id", existing.TrackingID))
		return CreateResult{Outcome: OutcomeAlreadyExists, Order: existing}, nil
	}
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Outcome: OutcomeCreated, Order: order}, nil
}

// CreateCashOnDelivery creates a COD order. There is no idempotency key: every
// call creates a new order. Quantity <= 0 is treated as 1.
func (e *Engine) CreateCashOnDelivery(ctx context.Context, req CashOnDeliveryRequest) (Order, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return Order{}, fmt.Errorf("%w: productId is required", ErrInvalidInput)
	}
	buyer := req.Buyer.normalized()
	if buyer.Name == "" || buyer.Email == "" {
		return Order{}, fmt.Errorf("%w: buyer name and email are required", ErrInvalidInput)
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}

	product, err := e.store.Catalog().GetProduct(ctx, productID)
	if err != nil {
		return Order{}, err
	}

	order := e.newOrder(product, buyer, qty, PaymentCashOnDelivery, PaymentCOD, "")
	if err := e.persist(ctx, order, tracking.StatusOrderCreatedCOD); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (e *Engine) newOrder(p inventory.Product, buyer Buyer, qty int, method PaymentMethod, status PaymentStatus, txID string) Order {
	now := e.now()
	return Order{
		ID:            e.newID(),
		TrackingID:    e.newTrackingID(now),
		ProductID:     p.ID,
		Product:       snapshotOf(p),
		Buyer:         buyer,
		Quantity:      qty,
		TotalPrice:    p.Price.Mul(decimal.NewFromInt(int64(qty))),
		PaymentMethod: method,
		PaymentStatus: status,
		TransactionID: txID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// persist inserts the order, decrements stock and appends the creation event
// in one transaction, so the order is never visible without its ledger entry.
func (e *Engine) persist(ctx context.Context, order Order, label string) error {
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Orders().Insert(ctx, order); err != nil {
			return err
		}
		if _, err := inventory.NewAdjuster(tx.Catalog(), e.logger).Decrement(ctx, order.ProductID, order.Quantity); err != nil {
			return err
		}
		return tx.Ledger().Append(ctx, tracking.NewEvent(order.ID, order.TrackingID, label, "", "", order.CreatedAt))
	})
	if err != nil {
		return err
	}

	e.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("tracking_id", order.TrackingID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.Int("quantity", order.Quantity),
		zap.String("total_price", order.TotalPrice.StringFixed(2)))

	e.publish(ctx, TopicOrderCreated, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:       order.ID,
		TrackingID:    order.TrackingID,
		ProductID:     order.ProductID,
		Quantity:      order.Quantity,
		TotalPrice:    order.TotalPrice.StringFixed(2),
		PaymentMethod: order.PaymentMethod,
		TransactionID: order.TransactionID,
		BuyerEmail:    order.Buyer.Email,
	})
	return nil
}

// Transition moves a pending order to approved or rejected. Terminal orders
// and unknown targets fail with ErrInvalidTransition and are left untouched.
func (e *Engine) Transition(ctx context.Context, orderID, newStatus, actor string) (Order, error) {
	next, err := ParseStatus(newStatus)
	if err != nil {
		return Order{}, err
	}
	if next == StatusPending {
		return Order{}, fmt.Errorf("%w: cannot move back to %s", ErrInvalidTransition, next)
	}

	var (
		before  Order
		updated Order
	)
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, next) {
			if current.Status.Terminal() {
				return fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, orderID, current.Status)
			}
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}
		before = current
		updated, err = tx.Orders().UpdateStatus(ctx, orderID, StatusChange{
			From:       current.Status,
			To:         next,
			ApprovedBy: strings.TrimSpace(actor),
			At:         e.now(),
		})
		if err != nil {
			return err
		}
		if !e.trackTransitions {
			return nil
		}
		label := tracking.StatusOrderApproved
		if next == StatusRejected {
			label = tracking.StatusOrderRejected
		}
		return tx.Ledger().Append(ctx, tracking.NewEvent(updated.ID, updated.TrackingID, label, "", "", updated.UpdatedAt))
	})
	if err != nil {
		return Order{}, err
	}

	e.logger.Info("order status changed",
		zap.String("order_id", updated.ID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("actor", actor))
	e.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, updated.ID, OrderStatusChangedPayload{
		OrderID:    updated.ID,
		TrackingID: updated.TrackingID,
		From:       before.Status,
		To:         updated.Status,
		Actor:      actor,
	})
	return updated, nil
}

// RecordTrackingEvent appends a manual entry to the order's ledger.
func (e *Engine) RecordTrackingEvent(ctx context.Context, orderID string, upd TrackingUpdate) (tracking.Event, error) {
	if strings.TrimSpace(upd.Status) == "" {
		return tracking.Event{}, fmt.Errorf("%w: tracking status is required", ErrInvalidInput)
	}
	order, err := e.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return tracking.Event{}, err
	}
	ev := tracking.NewEvent(order.ID, order.TrackingID, upd.Status, upd.Location, upd.Note, e.now())
	if err := e.store.Ledger().Append(ctx, ev); err != nil {
		return tracking.Event{}, err
	}

	e.publish(ctx, TopicTrackingRecorded, EventTrackingRecorded, order.ID, TrackingRecordedPayload{
		OrderID:    order.ID,
		TrackingID: order.TrackingID,
		EventID:    ev.ID,
		Status:     ev.Status,
		Location:   ev.Location,
		Note:       ev.Note,
	})
	return ev, nil
}

// GetTimeline returns the ledger for an order id or a tracking id, oldest
// first. An empty timeline is not an error.
func (e *Engine) GetTimeline(ctx context.Context, ref string) ([]tracking.Event, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: order or tracking id is required", ErrInvalidInput)
	}
	var (
		events []tracking.Event
		err    error
	)
	if IsTrackingID(strings.ToUpper(ref)) {
		events, err = e.store.Ledger().ByTrackingID(ctx, strings.ToUpper(ref))
	} else {
		events, err = e.store.Ledger().ByOrderID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		e.logger.Warn("empty timeline", zap.String("ref", ref))
		return []tracking.Event{}, nil
	}
	tracking.SortTimeline(events)
	return events, nil
}

func (e *Engine) GetOrder(ctx context.Context, id string) (Order, error) {
	return e.store.Orders().FindByID(ctx, id)
}

func (e *Engine) GetByTrackingID(ctx context.Context, trackingID string) (Order, error) {
	return e.store.Orders().FindByTrackingID(ctx, strings.ToUpper(strings.TrimSpace(trackingID)))
}

func (e *Engine) ListByStatus(ctx context.Context, status string) ([]Order, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return e.store.Orders().FindByStatus(ctx, st)
}

func (e *Engine) ListByBuyer(ctx context.Context, email string) ([]Order, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return e.store.Orders().FindByBuyerEmail(ctx, email)
}

// UpdateFields applies a manager patch. It never changes status.
func (e *Engine) UpdateFields(ctx context.Context, id string, patch Patch) (Order, error) {
	if patch.Empty() {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if patch.BuyerEmail != nil && strings.TrimSpace(*patch.BuyerEmail) == "" {
		return Order{}, fmt.Errorf("%w: buyer email cannot be blank", ErrInvalidInput)
	}
	if patch.BuyerName != nil && strings.TrimSpace(*patch.BuyerName) == "" {
		return Order{}, fmt.Errorf("%w: buyer name cannot be blank", ErrInvalidInput)
	}
	return e.store.Orders().UpdateFields(ctx, id, patch, e.now())
}

// Cancel removes an order at the buyer's request regardless of its status.
// Stock is not restored and the ledger is kept.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	order, err := e.store.Orders().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.Orders().Delete(ctx, id); err != nil {
		return err
	}
	e.logger.Info("order cancelled", zap.String("order_id", id), zap.String("status", string(order.Status)))
	e.publish(ctx, TopicOrderStatusChanged, EventOrderCancelled, id, OrderStatusChangedPayload{
		OrderID:    order.ID,
		TrackingID: order.TrackingID,
		From:       order.Status,
	})
	return nil
}

// Product exposes the catalog read used by the checkout page.
func (e *Engine) Product(ctx context.Context, id string) (inventory.Product, error) {
	return e.store.Catalog().GetProduct(ctx, id)
}

// publish is fire-and-forget: the write already committed, a lost event is logged.
func (e *Engine) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	env := NewEnvelope(eventType, e.service, orderID, payload, e.now())
	if err := e.events.Publish(ctx, topic, env); err != nil {
		e.logger.Error("publish event",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}
