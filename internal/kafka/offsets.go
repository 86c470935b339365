package kafka

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

type inflight struct {
	msg  kafka.Message
	done bool
}

// offsetTracker keeps fetched messages per partition in fetch order and
// commits only the contiguous handled prefix, so lanes finishing out of
// order never move a partition past an unhandled offset.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[partitionKey][]*inflight
	commit  func(ctx context.Context, msgs ...kafka.Message) error
}

func newOffsetTracker(commit func(ctx context.Context, msgs ...kafka.Message) error) *offsetTracker {
	return &offsetTracker{pending: map[partitionKey][]*inflight{}, commit: commit}
}

// track must be called in fetch order.
func (t *offsetTracker) track(m kafka.Message) *inflight {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	f := &inflight{msg: m}
	t.pending[k] = append(t.pending[k], f)
	return f
}

// done marks f handled and commits its partition up to the last message
// with no unhandled predecessor. Commits happen under the lock so a lower
// offset is never written after a higher one.
func (t *offsetTracker) done(ctx context.Context, f *inflight) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f.done = true

	k := partitionKey{f.msg.Topic, f.msg.Partition}
	q := t.pending[k]
	n := 0
	for n < len(q) && q[n].done {
		n++
	}
	if n == 0 {
		return nil
	}
	if err := t.commit(ctx, q[n-1].msg); err != nil {
		return err
	}
	if n == len(q) {
		delete(t.pending, k)
	} else {
		t.pending[k] = q[n:]
	}
	return nil
}
