package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres ledger store. Entries are locked with SELECT ... FOR
// UPDATE in product id order; saga events additionally take a per-order
// advisory lock so the processed-event check and the mutation are serialized.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const entryColumns = `id, product_id, quantity, reserved_quantity, version, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, e Entry) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO inventory(id, product_id, quantity, reserved_quantity, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.ProductID, e.Quantity, e.ReservedQuantity, e.Version, e.CreatedAt, e.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.New(apperr.KindDuplicateEntry, "inventory for product %s already exists", e.ProductID)
	}
	return err
}

func (r *Repo) Get(ctx context.Context, productID string) (Entry, error) {
	var e Entry
	err := r.DB.QueryRow(ctx, `SELECT `+entryColumns+` FROM inventory WHERE product_id=$1`, productID).
		Scan(&e.ID, &e.ProductID, &e.Quantity, &e.ReservedQuantity, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, apperr.New(apperr.KindNotFound, "no inventory for product %s", productID)
	}
	return e, err
}

func (r *Repo) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+entryColumns+` FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *Repo) Apply(ctx context.Context, key *ProcessedKey, productIDs []string, fn func(*Tx) error) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	work := &Tx{Entries: map[string]*Entry{}, Processed: map[string]bool{}}

	if key != nil {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.OrderID); err != nil {
			return false, err
		}
		rows, err := tx.Query(ctx, `SELECT event_type FROM processed_events WHERE order_id=$1`, key.OrderID)
		if err != nil {
			return false, err
		}
		for rows.Next() {
			var et string
			if err := rows.Scan(&et); err != nil {
				rows.Close()
				return false, err
			}
			work.Processed[et] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}
		if work.Processed[key.EventType] {
			return false, nil
		}
	}

	rows, err := tx.Query(ctx, `SELECT `+entryColumns+` FROM inventory
		WHERE product_id = ANY($1) ORDER BY product_id FOR UPDATE`, productIDs)
	if err != nil {
		return false, err
	}
	locked, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		return false, err
	}
	before := make(map[string]int64, len(locked))
	for i := range locked {
		e := locked[i]
		work.Entries[e.ProductID] = &e
		before[e.ProductID] = e.Version
	}

	if err := fn(work); err != nil {
		return false, err
	}

	for pid, e := range work.Entries {
		if e.Version == before[pid] {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE inventory SET quantity=$2, reserved_quantity=$3, version=$4, updated_at=$5
			WHERE product_id=$1`,
			pid, e.Quantity, e.ReservedQuantity, e.Version, e.UpdatedAt); err != nil {
			return false, err
		}
	}

	if key != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO processed_events(order_id, event_type, processed_at)
			VALUES ($1,$2,$3) ON CONFLICT (order_id, event_type) DO NOTHING`,
			key.OrderID, key.EventType, time.Now().UTC()); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Quantity, &e.ReservedQuantity, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
