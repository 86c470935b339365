package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relay's view of the outbox table.
type Store interface {
	// Pending returns unpublished records in insertion order.
	Pending(ctx context.Context, limit int) ([]events.OutboxRecord, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

type PGStore struct{ DB *pgxpool.Pool }

// InsertTx writes records inside the caller's transaction.
func InsertTx(ctx context.Context, tx pgx.Tx, recs ...events.OutboxRecord) error {
	for _, r := range recs {
		headers, err := json.Marshal(r.Headers)
		if err != nil {
			return fmt.Errorf("encode outbox headers: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO outbox(id, aggregate_id, topic, event_type, payload, headers, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			r.ID, r.AggregateID, r.Topic, r.EventType, r.Payload, headers, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert outbox %s: %w", r.EventType, err)
		}
	}
	return nil
}

func (s *PGStore) Pending(ctx context.Context, limit int) ([]events.OutboxRecord, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, aggregate_id, topic, event_type, payload, headers, created_at
		FROM outbox WHERE published_at IS NULL
		ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.OutboxRecord
	for rows.Next() {
		var (
			r       events.OutboxRecord
			headers []byte
		)
		if err := rows.Scan(&r.ID, &r.AggregateID, &r.Topic, &r.EventType, &r.Payload, &headers, &r.CreatedAt); err != nil {
			return nil, err
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &r.Headers); err != nil {
				return nil, fmt.Errorf("decode outbox headers %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET published_at=$2 WHERE id = ANY($1)`, ids, at)
	return err
}
