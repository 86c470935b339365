package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeadLetter preserves a message whose handling failed permanently, exactly
// as it was received, so it can be replayed.
type DeadLetter struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Key       string            `json:"key"`
	Payload   []byte            `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	EventType string            `json:"event_type,omitempty"`
	Error     string            `json:"error"`
	Attempts  int               `json:"attempts"`
	CreatedAt time.Time         `json:"created_at"`
}

func (d DeadLetter) Message() events.Message {
	return events.Message{Topic: d.Topic, Key: []byte(d.Key), Value: d.Payload, Headers: d.Headers}
}

type DeadLetterStore interface {
	Put(ctx context.Context, d DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	Get(ctx context.Context, id string) (DeadLetter, error)
	Delete(ctx context.Context, id string) error
}

type PGDeadLetters struct{ DB *pgxpool.Pool }

var _ DeadLetterStore = (*PGDeadLetters)(nil)

const deadLetterColumns = `id, topic, msg_key, payload, headers, event_type, error, attempts, created_at`

func (s *PGDeadLetters) Put(ctx context.Context, d DeadLetter) error {
	headers, err := json.Marshal(d.Headers)
	if err != nil {
		return fmt.Errorf("encode dead letter headers: %w", err)
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO dead_letters(id, topic, msg_key, payload, headers, event_type, error, attempts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.Topic, d.Key, d.Payload, headers, d.EventType, d.Error, d.Attempts, d.CreatedAt)
	return err
}

func (s *PGDeadLetters) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGDeadLetters) Get(ctx context.Context, id string) (DeadLetter, error) {
	d, err := scanDeadLetter(s.DB.QueryRow(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DeadLetter{}, apperr.New(apperr.KindNotFound, "dead letter %s not found", id)
	}
	return d, err
}

func (s *PGDeadLetters) Delete(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM dead_letters WHERE id=$1`, id)
	return err
}

func scanDeadLetter(row pgx.Row) (DeadLetter, error) {
	var (
		d       DeadLetter
		headers []byte
	)
	if err := row.Scan(&d.ID, &d.Topic, &d.Key, &d.Payload, &headers, &d.EventType, &d.Error, &d.Attempts, &d.CreatedAt); err != nil {
		return DeadLetter{}, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &d.Headers); err != nil {
			return DeadLetter{}, fmt.Errorf("decode dead letter headers: %w", err)
		}
	}
	return d, nil
}
