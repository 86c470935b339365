package kafka

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when the message may be committed.
type Handler func(ctx context.Context, m events.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *zap.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log}
}

// Start fetches until ctx is done. Messages with the same key always go to
// the same worker, so one order's events are handled in order. Offsets are
// committed per partition only up to the last message below which every
// fetched message was handled. A failed message therefore holds back its
// partition; the consumer stops and the group redelivers from it after
// restart.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	offsets := newOffsetTracker(c.r.CommitMessages)
	lanes := make([]chan *inflight, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan *inflight, 64)
		wg.Add(1)
		go func(jobs <-chan *inflight) {
			defer wg.Done()
			for f := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := h(ctx, FromKafka(f.msg)); err != nil {
					c.log.Error("handler failed, stopping consumer",
						zap.String("topic", f.msg.Topic), zap.Int("partition", f.msg.Partition),
						zap.Int64("offset", f.msg.Offset), zap.Error(err))
					cancel(err)
					continue
				}
				if err := offsets.done(ctx, f); err != nil && ctx.Err() == nil {
					cancel(err)
				}
			}
		}(lanes[i])
	}
	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return shutdownErr(ctx, err)
		}
		f := offsets.track(m)
		select {
		case lanes[lane(m.Key, c.workers)] <- f:
		case <-ctx.Done():
			return shutdownErr(ctx, ctx.Err())
		}
	}
}

// shutdownErr hides plain cancellation but surfaces worker failures.
func shutdownErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func lane(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
