package saga_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/memstore"
	"github.com/ariefcatur/go-commerce-saga/internal/saga"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []events.Message
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, msgs ...events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func orderMessage(t *testing.T, topic, orderID string) events.Message {
	t.Helper()
	rec, err := events.NewOutboxRecord(context.Background(), topic, "test", orderID, events.OrderEvent{OrderID: orderID, UserID: "u-1"})
	require.NoError(t, err)
	return rec.Message()
}

func newDispatcher(t *testing.T, maxRetries uint64) (*saga.Dispatcher, *memstore.DB, *capturePublisher) {
	db := memstore.New()
	pub := &capturePublisher{}
	d := saga.NewDispatcher(db.DeadLetters(), pub, maxRetries, zaptest.NewLogger(t), saga.WithBackOff(noWait))
	return d, db, pub
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	d, db, _ := newDispatcher(t, 5)
	calls := 0
	d.Handle(events.TopicOrderCreated, func(context.Context, events.Envelope) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), orderMessage(t, events.TopicOrderCreated, "o-1")))
	assert.Equal(t, 3, calls)

	dead, err := db.DeadLetters().List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestDispatchDeadLettersPermanentErrors(t *testing.T) {
	d, _, _ := newDispatcher(t, 5)
	calls := 0
	d.Handle(events.TopicOrderCreated, func(context.Context, events.Envelope) error {
		calls++
		return apperr.New(apperr.KindInsufficientStock, "not enough p1")
	})

	msg := orderMessage(t, events.TopicOrderCreated, "o-1")
	require.NoError(t, d.Dispatch(context.Background(), msg))
	assert.Equal(t, 1, calls)

	dead, err := d.DeadLetters(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, events.TopicOrderCreated, dead[0].Topic)
	assert.Equal(t, "o-1", dead[0].Key)
	assert.Equal(t, msg.Value, dead[0].Payload)
	assert.Equal(t, events.EventOrderCreated, dead[0].EventType)
	assert.Equal(t, 1, dead[0].Attempts)
	assert.Contains(t, dead[0].Error, "not enough p1")
}

func TestDispatchDeadLettersAfterExhaustion(t *testing.T) {
	d, _, _ := newDispatcher(t, 2)
	calls := 0
	d.Handle(events.TopicOrderConfirmed, func(context.Context, events.Envelope) error {
		calls++
		return apperr.Retryable(apperr.New(apperr.KindNotFound, "order not reserved yet"))
	})

	require.NoError(t, d.Dispatch(context.Background(), orderMessage(t, events.TopicOrderConfirmed, "o-1")))
	assert.Equal(t, 3, calls)

	dead, err := d.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
}

func TestDispatchUndecodable(t *testing.T) {
	d, _, _ := newDispatcher(t, 2)
	called := false
	d.Handle(events.TopicOrderCreated, func(context.Context, events.Envelope) error {
		called = true
		return nil
	})

	msg := events.Message{Topic: events.TopicOrderCreated, Key: []byte("o-1"), Value: []byte("{not json")}
	require.NoError(t, d.Dispatch(context.Background(), msg))
	assert.False(t, called)

	dead, err := d.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Zero(t, dead[0].Attempts)
	assert.Empty(t, dead[0].EventType)
}

func TestDispatchUnknownTopicIsIgnored(t *testing.T) {
	d, _, _ := newDispatcher(t, 2)
	require.NoError(t, d.Dispatch(context.Background(), events.Message{Topic: "elsewhere", Value: []byte("x")}))
	dead, _ := d.DeadLetters(context.Background(), 10)
	assert.Empty(t, dead)
}

func TestDispatchStopsOnCancel(t *testing.T) {
	d, _, _ := newDispatcher(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	d.Handle(events.TopicOrderCreated, func(context.Context, events.Envelope) error {
		cancel()
		return errors.New("broker unavailable")
	})

	err := d.Dispatch(ctx, orderMessage(t, events.TopicOrderCreated, "o-1"))
	assert.ErrorIs(t, err, context.Canceled)
	dead, _ := d.DeadLetters(context.Background(), 10)
	assert.Empty(t, dead, "a cancelled dispatch leaves the message for redelivery")
}

func TestReplayRepublishesAndRemoves(t *testing.T) {
	ctx := context.Background()
	d, _, pub := newDispatcher(t, 0)
	d.Handle(events.TopicOrderCreated, func(context.Context, events.Envelope) error {
		return apperr.New(apperr.KindValidation, "bad")
	})

	msg := orderMessage(t, events.TopicOrderCreated, "o-1")
	require.NoError(t, d.Dispatch(ctx, msg))
	dead, err := d.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	dl, err := d.Replay(ctx, dead[0].ID)
	require.NoError(t, err)
	assert.Equal(t, dead[0].ID, dl.ID)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, msg.Topic, pub.msgs[0].Topic)
	assert.Equal(t, msg.Value, pub.msgs[0].Value)
	assert.Equal(t, msg.Key, pub.msgs[0].Key)
	assert.Equal(t, events.EventOrderCreated, pub.msgs[0].Headers[events.HeaderEventType])

	left, err := d.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = d.Replay(ctx, dead[0].ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReplayKeepsLetterWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	d, _, pub := newDispatcher(t, 0)
	d.Handle(events.TopicOrderCreated, func(context.Context, events.Envelope) error {
		return apperr.New(apperr.KindValidation, "bad")
	})
	require.NoError(t, d.Dispatch(ctx, orderMessage(t, events.TopicOrderCreated, "o-1")))
	dead, _ := d.DeadLetters(ctx, 10)
	require.Len(t, dead, 1)

	pub.err = errors.New("kafka down")
	_, err := d.Replay(ctx, dead[0].ID)
	require.Error(t, err)

	left, _ := d.DeadLetters(ctx, 10)
	assert.Len(t, left, 1)
}

func TestTopicsSorted(t *testing.T) {
	d, _, _ := newDispatcher(t, 0)
	noop := func(context.Context, events.Envelope) error { return nil }
	d.Handle(events.TopicOrderCancelled, noop)
	d.Handle(events.TopicOrderCreated, noop)
	d.Handle(events.TopicOrderConfirmed, noop)
	assert.Equal(t, []string{events.TopicOrderCancelled, events.TopicOrderConfirmed, events.TopicOrderCreated}, d.Topics())
}
