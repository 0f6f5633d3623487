package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message was processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	retryBase = 200 * time.Millisecond
	retryMax  = 10 * time.Second
)

type Consumer struct {
	r         MessageReader
	workers   int
	log       *slog.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r MessageReader, workers int, log *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{r: r, workers: workers, log: log, retryBase: retryBase, retryMax: retryMax}
}

// Start fetches messages and fans them out to the worker pool. Every
// partition is pinned to one worker, which handles its messages in order
// and retries a failing message until it succeeds, so commits never move
// past an unprocessed offset. Start returns nil once ctx is cancelled and
// every worker has drained.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if ctx.Err() != nil {
					continue // uncommitted, redelivered after restart
				}
				if !c.handle(ctx, id, h, m) {
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Error("commit failed", "worker", id, "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
				}
			}
		}(i, queues[i])
	}
	defer wg.Wait()
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[c.worker(m)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// worker pins a partition to one worker; the same partition number of
// different topics may share it.
func (c *Consumer) worker(m kafka.Message) int {
	return m.Partition % c.workers
}

// handle runs h until it succeeds or ctx ends, backing off between attempts.
func (c *Consumer) handle(ctx context.Context, id int, h Handler, m kafka.Message) bool {
	wait := c.retryBase
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Error("handler failed", "worker", id, "topic", m.Topic, "partition", m.Partition,
			"offset", m.Offset, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if wait *= 2; wait > c.retryMax {
			wait = c.retryMax
		}
	}
}
