// Package tracking holds the append-only ledger of order status events.
package tracking

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Well-known ledger labels. Any other free-form label is accepted.
const (
	StatusOrderCreated    = "Order Created"
	StatusOrderCreatedCOD = "Order Created (COD)"
	StatusOrderApproved   = "Order Approved"
	StatusOrderRejected   = "Order Rejected"
)

// Event is one immutable ledger entry. TrackingID is a denormalized copy of the
// order's trackingId so the stream can be read by either key.
type Event struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId"`
	TrackingID string    `json:"trackingId"`
	Status     string    `json:"status"`
	Location   string    `json:"location,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Ledger is append-only: there is no update or delete.
type Ledger interface {
	Append(ctx context.Context, ev Event) error
	ByOrderID(ctx context.Context, orderID string) ([]Event, error)
	ByTrackingID(ctx context.Context, trackingID string) ([]Event, error)
}

// NewEvent stamps an event with a ULID derived from at, so ids sort with time.
func NewEvent(orderID, trackingID, status, location, note string, at time.Time) Event {
	at = at.UTC()
	return Event{
		ID:         ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		OrderID:    orderID,
		TrackingID: trackingID,
		Status:     strings.TrimSpace(status),
		Location:   strings.TrimSpace(location),
		Note:       strings.TrimSpace(note),
		CreatedAt:  at,
	}
}

// SortTimeline orders events ascending by CreatedAt, breaking ties by id.
func SortTimeline(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
}
