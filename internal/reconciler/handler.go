// Package reconciler turns queued checkout-session completions into orders.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/garments-tracker/internal/kafka"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/redisx"
)

const dedupScope = "reconciler"

type Confirmer interface {
	CreateFromPaymentConfirmation(ctx context.Context, sessionRef string) (orders.CreateResult, error)
}

// Deduper is satisfied by *redisx.Cache.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type Service struct {
	Orders Confirmer
	Dedup  Deduper
	Logger *zap.Logger
}

// Handle is a kafkax.Handler. Returning an error leaves the offset uncommitted
// so the consumer retries; everything else is committed.
func (s *Service) Handle(ctx context.Context, m kafka.Message) error {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Producers stamp the event type as a header; skip foreign events undecoded.
	if t := kafkax.HeaderValue(m.Headers, orders.HeaderEventType); t != "" && t != orders.EventPaymentSessionComplete {
		return nil
	}

	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		log.Error("dropping malformed message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventPaymentSessionComplete {
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("session_id", env.CorrelationID))

	dkey := fmt.Sprintf(redisx.KeyDedup, dedupScope, env.EventID)
	if s.Dedup != nil {
		won, err := s.Dedup.Claim(ctx, dkey, redisx.TTLDedup)
		switch {
		case err != nil:
			// The store is still idempotent per payment; carry on.
			log.Warn("dedup claim failed", zap.Error(err))
		case !won:
			log.Debug("duplicate event skipped")
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentSessionCompletedPayload](env.Payload)
	if err != nil || p.SessionID == "" {
		log.Error("dropping event without session id", zap.Error(err))
		return nil
	}

	res, err := s.Orders.CreateFromPaymentConfirmation(ctx, p.SessionID)
	switch {
	case err == nil:
		log.Info("checkout session reconciled",
			zap.String("outcome", res.Outcome.String()),
			zap.String("tracking_id", res.Order.TrackingID))
		return nil
	case errors.Is(err, orders.ErrInvalidInput) || orders.IsNotFound(err):
		log.Warn("checkout session not reconcilable", zap.Error(err))
		return nil
	default:
		s.release(ctx, dkey, log)
		return err
	}
}

func (s *Service) release(ctx context.Context, key string, log *zap.Logger) {
	if s.Dedup == nil {
		return
	}
	if err := s.Dedup.Del(ctx, key); err != nil {
		log.Warn("dedup release failed", zap.Error(err))
	}
}
