package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrGaveUp is returned by Start when a message failed all its attempts.
var ErrGaveUp = errors.New("kafka consumer: message failed all attempts")

// Handler must return nil only when processing succeeded and the offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Group   string
	Topic   string
	Workers int
	// Attempts is how many times a failing message is handed to the
	// handler before the consumer stops. Defaults to 3.
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

type Consumer struct {
	r        messageReader
	workers  int
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, cfg)
}

func newConsumer(r messageReader, cfg ConsumerConfig) *Consumer {
	c := &Consumer{
		r:        r,
		workers:  cfg.Workers,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		logger:   cfg.Logger,
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	if c.backoff <= 0 {
		c.backoff = 200 * time.Millisecond
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Start reads until ctx ends or the reader fails. A cancelled ctx is a clean
// shutdown and returns nil.
//
// Each partition is pinned to one worker so its offsets are handled in order.
// When a message fails every attempt Start stops and returns ErrGaveUp:
// committing anything after it would move the group past it, so it is left
// for the next consumer run to redeliver.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if runCtx.Err() != nil {
					continue // uncommitted, redelivered on the next run
				}
				if err := c.process(ctx, id, h, m); err != nil {
					stop(err)
				}
			}
		}(i, queues[i])
	}

	readErr := c.read(runCtx, queues)
	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	if cause := context.Cause(runCtx); errors.Is(cause, ErrGaveUp) {
		return cause
	}
	if ctx.Err() != nil {
		return nil
	}
	return readErr
}

func (c *Consumer) read(ctx context.Context, queues []chan kafka.Message) error {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return err
		}
		select {
		case queues[m.Partition%len(queues)] <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// process returns an ErrGaveUp error only when the handler failed every
// attempt. A shutdown during backoff returns nil without committing.
func (c *Consumer) process(ctx context.Context, worker int, h Handler, m kafka.Message) error {
	log := c.logger.With(
		zap.Int("worker", worker),
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset))

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		log.Warn("handler failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.attempts {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return nil
		}
	}
	if err != nil {
		log.Error("giving up on message, stopping consumer", zap.Error(err))
		return fmt.Errorf("%w: %s[%d]@%d: %v", ErrGaveUp, m.Topic, m.Partition, m.Offset, err)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Error("commit offset", zap.Error(err))
	}
	return nil
}
