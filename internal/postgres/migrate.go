package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		user_email       TEXT NOT NULL DEFAULT '',
		order_number     TEXT NOT NULL UNIQUE,
		status           TEXT NOT NULL,
		shipping_address JSONB NOT NULL DEFAULT '{}',
		total_amount     NUMERIC(14,2) NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id     TEXT NOT NULL REFERENCES orders(id),
		line_no      INT NOT NULL,
		product_id   TEXT NOT NULL,
		product_name TEXT NOT NULL DEFAULT '',
		price        NUMERIC(14,2) NOT NULL,
		quantity     INT NOT NULL CHECK (quantity > 0),
		subtotal     NUMERIC(14,2) NOT NULL,
		image_url    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (order_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		id                TEXT PRIMARY KEY,
		product_id        TEXT NOT NULL UNIQUE,
		quantity          INT NOT NULL,
		reserved_quantity INT NOT NULL DEFAULT 0,
		version           BIGINT NOT NULL DEFAULT 1,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		CHECK (reserved_quantity >= 0 AND reserved_quantity <= quantity)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		order_id     TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (order_id, event_type)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id               TEXT PRIMARY KEY,
		order_id         TEXT NOT NULL,
		user_id          TEXT NOT NULL,
		order_number     TEXT NOT NULL DEFAULT '',
		user_email       TEXT NOT NULL DEFAULT '',
		amount           NUMERIC(14,2) NOT NULL,
		status           TEXT NOT NULL,
		method           TEXT NOT NULL,
		transaction_id   TEXT NOT NULL UNIQUE,
		gateway_response TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		channel       TEXT NOT NULL,
		recipient     TEXT NOT NULL,
		subject       TEXT NOT NULL DEFAULT '',
		body          TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		retry_count   INT NOT NULL DEFAULT 0 CHECK (retry_count BETWEEN 0 AND 3),
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		sent_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status, retry_count)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		seq          BIGSERIAL PRIMARY KEY,
		id           TEXT NOT NULL UNIQUE,
		aggregate_id TEXT NOT NULL,
		topic        TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		payload      BYTEA NOT NULL,
		headers      JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(seq) WHERE published_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id         TEXT PRIMARY KEY,
		topic      TEXT NOT NULL,
		msg_key    TEXT NOT NULL DEFAULT '',
		payload    BYTEA NOT NULL,
		headers    JSONB NOT NULL DEFAULT '{}',
		event_type TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL,
		attempts   INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates missing tables. Every statement is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
