package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/segmentio/kafka-go"
)

// Producer writes to any topic. Writes are synchronous so the outbox relay
// only marks records that the brokers acknowledged.
type Producer struct {
	w *kafka.Writer
}

var _ events.Publisher = (*Producer)(nil)

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, msgs ...events.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToKafka(m))
	}
	if err := p.w.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

// ToKafka converts a bus message into a kafka-go message.
func ToKafka(m events.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    time.Now(),
	}
}

// FromKafka converts a consumed kafka-go message into a bus message.
func FromKafka(m kafka.Message) events.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return events.Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Headers: headers}
}
