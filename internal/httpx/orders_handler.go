package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/garments-tracker/internal/observability"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/redisx"
	"github.com/ariefcatur/garments-tracker/internal/tracking"
)

// Cache is the Redis surface the handlers need; *redisx.Cache satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type OrdersHandler struct {
	Engine *orders.Engine
	Cache  Cache
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products/{id}", h.getProduct)
	r.Post("/orders/cod", h.createCOD)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.transition)
	r.Patch("/orders/{id}", h.patchOrder)
	r.Delete("/orders/{id}", h.cancel)
	r.Post("/orders/{id}/tracking", h.recordTracking)
	r.Get("/track/{code}", h.timeline)
}

type statusBody struct {
	OrderID   string        `json:"orderId"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type timelineResp struct {
	Ref    string           `json:"ref"`
	Events []tracking.Event `json:"events"`
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *OrdersHandler) createCOD(w http.ResponseWriter, r *http.Request) {
	var req orders.CashOnDeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, newError("invalid_json", err.Error(), http.StatusBadRequest))
		return
	}
	o, err := h.Engine.CreateCashOnDelivery(r.Context(), req)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"orderId":    o.ID,
		"trackingId": o.TrackingID,
		"totalPrice": o.TotalPrice,
	})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		list []orders.Order
		err  error
	)
	switch {
	case q.Get("status") != "":
		list, err = h.Engine.ListByStatus(r.Context(), q.Get("status"))
	case q.Get("email") != "":
		list, err = h.Engine.ListByBuyer(r.Context(), q.Get("email"))
	default:
		err = fmt.Errorf("%w: status or email query parameter is required", orders.ErrInvalidInput)
	}
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		o   orders.Order
		err error
	)
	if orders.IsTrackingID(strings.ToUpper(id)) {
		o, err = h.Engine.GetByTrackingID(r.Context(), id)
	} else {
		o, err = h.Engine.GetOrder(r.Context(), id)
	}
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus serves from the Redis cache first; the store stays the source of truth.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	key := fmt.Sprintf(redisx.KeyOrderStatus, id)

	if h.Cache != nil {
		if s, ok, err := h.Cache.Get(ctx, key); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		} else if err != nil {
			observability.FromContext(ctx).Warn("status cache read", zap.Error(err))
		}
	}

	o, err := h.Engine.GetOrder(ctx, id)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusBody{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, newError("invalid_json", err.Error(), http.StatusBadRequest))
		return
	}
	o, err := h.Engine.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, req.Actor)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) patchOrder(w http.ResponseWriter, r *http.Request) {
	var patch orders.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(r.Context(), w, newError("invalid_json", err.Error(), http.StatusBadRequest))
		return
	}
	o, err := h.Engine.UpdateFields(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Engine.Cancel(r.Context(), id); err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	h.evictStatus(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) recordTracking(w http.ResponseWriter, r *http.Request) {
	var upd orders.TrackingUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(r.Context(), w, newError("invalid_json", err.Error(), http.StatusBadRequest))
		return
	}
	ev, err := h.Engine.RecordTrackingEvent(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *OrdersHandler) timeline(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "code")
	events, err := h.Engine.GetTimeline(r.Context(), ref)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, timelineResp{Ref: ref, Events: events})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Cache == nil {
		return
	}
	b, _ := json.Marshal(statusBody{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt})
	if err := h.Cache.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), string(b), redisx.TTLStatusCache); err != nil {
		observability.FromContext(ctx).Warn("status cache write", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *OrdersHandler) evictStatus(ctx context.Context, id string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, id)); err != nil {
		observability.FromContext(ctx).Warn("status cache evict", zap.String("order_id", id), zap.Error(err))
	}
}
