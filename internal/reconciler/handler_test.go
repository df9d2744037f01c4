package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/garments-tracker/internal/orders"
)

type fakeDedup struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (d *fakeDedup) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.keys[key] {
		return false, nil
	}
	d.keys[key] = true
	return true, nil
}

func (d *fakeDedup) Del(_ context.Context, keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		delete(d.keys, k)
	}
	return nil
}

type stubConfirmer struct {
	calls []string
	fn    func(ref string) (orders.CreateResult, error)
}

func (c *stubConfirmer) CreateFromPaymentConfirmation(_ context.Context, ref string) (orders.CreateResult, error) {
	c.calls = append(c.calls, ref)
	return c.fn(ref)
}

func message(t *testing.T, env orders.Envelope) kafka.Message {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Topic: orders.TopicPaymentSessionComplete, Value: b}
}

func sessionEvent(session string) orders.Envelope {
	return orders.NewEnvelope(orders.EventPaymentSessionComplete, "order-api", session,
		orders.PaymentSessionCompletedPayload{SessionID: session}, time.Now())
}

func TestHandleDedupsByEventID(t *testing.T) {
	conf := &stubConfirmer{fn: func(string) (orders.CreateResult, error) {
		return orders.CreateResult{Outcome: orders.OutcomeCreated}, nil
	}}
	svc := &Service{Orders: conf, Dedup: &fakeDedup{keys: map[string]bool{}}}
	m := message(t, sessionEvent("cs_1"))

	require.NoError(t, svc.Handle(context.Background(), m))
	require.NoError(t, svc.Handle(context.Background(), m))
	require.Equal(t, []string{"cs_1"}, conf.calls)
}

func TestHandleRetriesUpstreamFailures(t *testing.T) {
	fail := true
	conf := &stubConfirmer{fn: func(string) (orders.CreateResult, error) {
		if fail {
			return orders.CreateResult{}, orders.ErrUpstreamUnavailable
		}
		return orders.CreateResult{Outcome: orders.OutcomeAlreadyExists}, nil
	}}
	svc := &Service{Orders: conf, Dedup: &fakeDedup{keys: map[string]bool{}}}
	m := message(t, sessionEvent("cs_2"))

	require.ErrorIs(t, svc.Handle(context.Background(), m), orders.ErrUpstreamUnavailable)
	fail = false
	// the dedup key was released, so the redelivery is processed
	require.NoError(t, svc.Handle(context.Background(), m))
	require.Len(t, conf.calls, 2)
}

func TestHandleCommitsPermanentFailures(t *testing.T) {
	conf := &stubConfirmer{fn: func(string) (orders.CreateResult, error) {
		return orders.CreateResult{}, orders.ErrProductNotFound
	}}
	svc := &Service{Orders: conf}
	require.NoError(t, svc.Handle(context.Background(), message(t, sessionEvent("cs_3"))))

	conf.fn = func(string) (orders.CreateResult, error) { return orders.CreateResult{}, orders.ErrInvalidInput }
	require.NoError(t, svc.Handle(context.Background(), message(t, sessionEvent("cs_4"))))
}

func TestHandleIgnoresForeignAndMalformed(t *testing.T) {
	conf := &stubConfirmer{fn: func(string) (orders.CreateResult, error) {
		t.Fatal("confirmer must not be called")
		return orders.CreateResult{}, nil
	}}
	svc := &Service{Orders: conf, Dedup: &fakeDedup{keys: map[string]bool{}}}

	require.NoError(t, svc.Handle(context.Background(), kafka.Message{Value: []byte("not json")}))

	other := orders.NewEnvelope(orders.EventOrderCreated, "order-api", "o-1", map[string]string{}, time.Now())
	require.NoError(t, svc.Handle(context.Background(), message(t, other)))

	empty := orders.NewEnvelope(orders.EventPaymentSessionComplete, "order-api", "", orders.PaymentSessionCompletedPayload{}, time.Now())
	require.NoError(t, svc.Handle(context.Background(), message(t, empty)))
}

func TestHandleSkipsForeignEventTypeHeader(t *testing.T) {
	conf := &stubConfirmer{fn: func(string) (orders.CreateResult, error) {
		return orders.CreateResult{Outcome: orders.OutcomeCreated}, nil
	}}
	svc := &Service{Orders: conf, Dedup: &fakeDedup{keys: map[string]bool{}}}

	m := message(t, sessionEvent("cs_9"))
	m.Headers = []kafka.Header{{Key: orders.HeaderEventType, Value: []byte(orders.EventOrderCreated)}}
	require.NoError(t, svc.Handle(context.Background(), m))
	require.Empty(t, conf.calls)

	m.Headers = []kafka.Header{{Key: orders.HeaderEventType, Value: []byte(orders.EventPaymentSessionComplete)}}
	require.NoError(t, svc.Handle(context.Background(), m))
	require.Equal(t, []string{"cs_9"}, conf.calls)
}

func TestHandleProceedsWhenDedupUnavailable(t *testing.T) {
	conf := &stubConfirmer{fn: func(string) (orders.CreateResult, error) {
		return orders.CreateResult{Outcome: orders.OutcomeCreated}, nil
	}}
	svc := &Service{Orders: conf, Dedup: &fakeDedup{err: errors.New("redis down")}}
	require.NoError(t, svc.Handle(context.Background(), message(t, sessionEvent("cs_5"))))
	require.Len(t, conf.calls, 1)
}
