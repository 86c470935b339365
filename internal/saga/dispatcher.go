package saga

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/observability"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandlerFunc applies one decoded event. Errors marked apperr.Retryable or
// without a domain kind are retried; the rest are dead-lettered.
type HandlerFunc func(ctx context.Context, env events.Envelope) error

type Dispatcher struct {
	handlers   map[string]HandlerFunc
	dead       DeadLetterStore
	pub        events.Publisher
	log        *zap.Logger
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

type Option func(*Dispatcher)

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(d *Dispatcher) { d.newBackOff = f }
}

func NewDispatcher(dead DeadLetterStore, pub events.Publisher, maxRetries uint64, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:   map[string]HandlerFunc{},
		dead:       dead,
		pub:        pub,
		log:        log,
		maxRetries: maxRetries,
		newBackOff: defaultBackOff,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (d *Dispatcher) Handle(topic string, h HandlerFunc) { d.handlers[topic] = h }

func (d *Dispatcher) Topics() []string {
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for msg. It returns nil once the message is
// either handled or dead-lettered, so the caller may commit its offset.
func (d *Dispatcher) Dispatch(ctx context.Context, msg events.Message) error {
	ctx = observability.ExtractContext(ctx, msg.Headers)
	ctx, span := observability.Tracer().Start(ctx, msg.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.message.key", string(msg.Key)),
		),
	)
	defer span.End()

	h, ok := d.handlers[msg.Topic]
	if !ok {
		d.log.Warn("no handler for topic", zap.String("topic", msg.Topic))
		return nil
	}

	env, err := events.Decode(msg.Value)
	if err != nil {
		span.SetStatus(codes.Error, "undecodable")
		return d.deadLetter(ctx, msg, "", err, 0)
	}
	log := d.log.With(zap.String("topic", msg.Topic), zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	attempts := 0
	op := func() error {
		attempts++
		err := h(ctx, env)
		if err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		log.Warn("handler failed, will retry", zap.Int("attempt", attempts), zap.Error(err))
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), d.maxRetries), ctx)
	err = backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return d.deadLetter(ctx, msg, env.EventType, err, attempts)
}

func (d *Dispatcher) deadLetter(ctx context.Context, msg events.Message, eventType string, cause error, attempts int) error {
	dl := DeadLetter{
		ID:        uuid.NewString(),
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		Payload:   msg.Value,
		Headers:   msg.Headers,
		EventType: eventType,
		Error:     cause.Error(),
		Attempts:  attempts,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.dead.Put(context.WithoutCancel(ctx), dl); err != nil {
		d.log.Error("dead letter write failed", zap.String("topic", msg.Topic), zap.Error(err))
		return fmt.Errorf("dead-letter %s message: %w", msg.Topic, err)
	}
	d.log.Error("message dead-lettered",
		zap.String("dead_letter_id", dl.ID),
		zap.String("topic", msg.Topic),
		zap.String("key", dl.Key),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return nil
}

func (d *Dispatcher) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.dead.List(ctx, limit)
}

// Replay re-publishes a dead letter to its original topic and removes it.
func (d *Dispatcher) Replay(ctx context.Context, id string) (DeadLetter, error) {
	dl, err := d.dead.Get(ctx, id)
	if err != nil {
		return DeadLetter{}, err
	}
	if err := d.pub.Publish(ctx, dl.Message()); err != nil {
		return DeadLetter{}, fmt.Errorf("replay %s: %w", id, err)
	}
	if err := d.dead.Delete(ctx, id); err != nil {
		return DeadLetter{}, fmt.Errorf("remove replayed %s: %w", id, err)
	}
	d.log.Info("dead letter replayed", zap.String("dead_letter_id", id), zap.String("topic", dl.Topic))
	return dl, nil
}
