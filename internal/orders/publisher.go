package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/garments-tracker/internal/kafka"
)

// Headers stamped on every published message.
const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Publisher delivers envelopes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// BusPublisher publishes envelopes on Kafka, keyed by correlation id.
type BusPublisher struct {
	Producer *kafkax.Producer
}

func (p *BusPublisher) Publish(ctx context.Context, topic string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.EventType, err)
	}
	return p.Producer.Publish(ctx, topic, PartitionKey(env.CorrelationID), value,
		kafkago.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafkago.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, Envelope) error { return nil }
