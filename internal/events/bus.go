package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/observability"
	"github.com/google/uuid"
)

// Message is a transport-neutral record on the bus.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// Deduper is a best-effort processed-marker store used as a fast path in
// front of durable idempotency checks.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// OutboxRecord is an event written in the same transaction as the state
// change that caused it; a relay publishes it afterwards.
type OutboxRecord struct {
	ID          string            `json:"id"`
	AggregateID string            `json:"aggregate_id"`
	Topic       string            `json:"topic"`
	EventType   string            `json:"event_type"`
	Payload     []byte            `json:"payload"` // encoded Envelope
	Headers     map[string]string `json:"headers,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}

// NewOutboxRecord builds the envelope for payload and captures the trace
// context of ctx so the relay can forward it.
func NewOutboxRecord(ctx context.Context, topic, producer, aggregateID string, payload any) (OutboxRecord, error) {
	eventType := EventTypeFor(topic)
	if eventType == "" {
		return OutboxRecord{}, fmt.Errorf("unknown topic %q", topic)
	}
	env, err := NewEnvelope(eventType, producer, aggregateID, payload)
	if err != nil {
		return OutboxRecord{}, err
	}
	env.TraceID = observability.TraceID(ctx)

	b, err := json.Marshal(env)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("encode envelope: %w", err)
	}
	headers := map[string]string{
		HeaderEventType:    eventType,
		HeaderEventVersion: strconv.Itoa(env.EventVersion),
	}
	observability.InjectHeaders(ctx, headers)

	return OutboxRecord{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Topic:       topic,
		EventType:   eventType,
		Payload:     b,
		Headers:     headers,
		CreatedAt:   env.OccurredAt,
	}, nil
}

func (r OutboxRecord) Message() Message {
	h := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		h[k] = v
	}
	return Message{
		Topic:   r.Topic,
		Key:     PartitionKey(r.AggregateID),
		Value:   r.Payload,
		Headers: h,
	}
}

// Envelope decodes the record payload.
func (r OutboxRecord) Envelope() (Envelope, error) { return Decode(r.Payload) }
