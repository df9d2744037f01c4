package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 16, zap.NewNop())
	p.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, "order.created", []byte("o-1"), []byte(`{}`)))
	require.NoError(t, p.Publish(ctx, "order.status.changed", []byte("o-1"), []byte(`{}`),
		kafka.Header{Key: "x-event-type", Value: []byte("OrderStatusChanged")}))

	p.Close()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.True(t, w.closed)
	require.Len(t, w.msgs, 2)
	require.Equal(t, "order.created", w.msgs[0].Topic)
	require.Equal(t, "OrderStatusChanged", HeaderValue(w.msgs[1].Headers, "x-event-type"))

	require.ErrorIs(t, p.Publish(ctx, "order.created", nil, nil), ErrProducerClosed)
}

func TestProducerPublishRespectsContext(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, zap.NewNop())
	// not started: the inbox fills after one message
	require.NoError(t, p.Publish(context.Background(), "t", nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Publish(ctx, "t", nil, nil), context.Canceled)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type countingHandler struct {
	mu    sync.Mutex
	calls map[int64]int
	fail  map[int64]bool
}

func (h *countingHandler) handle(_ context.Context, m kafka.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[m.Offset]++
	if h.fail[m.Offset] {
		return errors.New("upstream down")
	}
	return nil
}

func (h *countingHandler) count(offset int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[offset]
}

func TestConsumerCommitsSuccessesUntilShutdown(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Partition: 0, Offset: 1},
		{Partition: 1, Offset: 7},
		{Partition: 0, Offset: 2},
	}}
	c := newConsumer(r, ConsumerConfig{Workers: 2, Attempts: 2, Backoff: time.Millisecond})
	h := &countingHandler{calls: map[int64]int{}, fail: map[int64]bool{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h.handle) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.ElementsMatch(t, []int64{1, 2, 7}, r.commits())
}

func TestConsumerStopsPartitionAfterFailedMessage(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Partition: 0, Offset: 1},
		{Partition: 0, Offset: 2},
	}}
	c := newConsumer(r, ConsumerConfig{Workers: 1, Attempts: 2, Backoff: time.Millisecond})
	h := &countingHandler{calls: map[int64]int{}, fail: map[int64]bool{1: true}}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background(), h.handle) }()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after exhausting attempts")
	}
	require.ErrorIs(t, err, ErrGaveUp)
	require.Equal(t, 2, h.count(1))
	// Nothing past the failed offset is handled or committed, so the group
	// offset stays at 1 and the message is redelivered on restart.
	require.Zero(t, h.count(2))
	require.Empty(t, r.commits())
}

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		SessionID string `json:"session_id"`
	}
	got, err := UnwrapPayload[payload](MustMarshal(payload{SessionID: "cs_1"}))
	require.NoError(t, err)
	require.Equal(t, "cs_1", got.SessionID)

	_, err = UnwrapPayload[payload]([]byte(`{`))
	require.Error(t, err)
}
