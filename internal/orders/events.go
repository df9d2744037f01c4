package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	kafkax "github.com/ariefcatur/garments-tracker/internal/kafka"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventOrderStatusChanged     = "OrderStatusChanged"
	EventOrderCancelled         = "OrderCancelled"
	EventTrackingRecorded       = "TrackingRecorded"
	EventPaymentSessionComplete = "PaymentSessionCompleted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id, or session id for payments
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as a v1 event.
func NewEnvelope(eventType, producer, correlationID string, payload any, at time.Time) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
}

type OrderCreatedPayload struct {
	OrderID       string        `json:"order_id"`
	TrackingID    string        `json:"tracking_id"`
	ProductID     string        `json:"product_id"`
	Quantity      int           `json:"quantity"`
	TotalPrice    string        `json:"total_price"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TransactionID string        `json:"transaction_id,omitempty"`
	BuyerEmail    string        `json:"buyer_email"`
}

type OrderStatusChangedPayload struct {
	OrderID    string `json:"order_id"`
	TrackingID string `json:"tracking_id"`
	From       Status `json:"from"`
	To         Status `json:"to"`
	Actor      string `json:"actor,omitempty"`
}

type TrackingRecordedPayload struct {
	OrderID    string `json:"order_id"`
	TrackingID string `json:"tracking_id"`
	EventID    string `json:"event_id"`
	Status     string `json:"status"`
	Location   string `json:"location,omitempty"`
	Note       string `json:"note,omitempty"`
}

type PaymentSessionCompletedPayload struct {
	SessionID string `json:"session_id"`
}
