package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres order store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const orderColumns = `id, user_id, user_email, order_number, status, shipping_address, total_amount::text, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, o Order, out ...events.OutboxRecord) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, user_email, order_number, status, shipping_address, total_amount, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9)`,
		o.ID, o.UserID, o.UserEmail, o.OrderNumber, string(o.Status), addr, o.TotalAmount.String(), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Wrap(apperr.KindDuplicateEntry, err, "order "+o.OrderNumber)
		}
		return err
	}

	for i, it := range o.Items {
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, product_name, price, quantity, subtotal, image_url)
			VALUES ($1,$2,$3,$4,$5::numeric,$6,$7::numeric,$8)`,
			o.ID, i, it.ProductID, it.ProductName, it.Price.String(), it.Quantity, it.Subtotal.String(), it.ImageURL,
		); err != nil {
			return err
		}
	}

	if err := outbox.InsertTx(ctx, tx, out...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *Repo) GetByNumber(ctx context.Context, number string) (Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, number)
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *Repo) List(ctx context.Context) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time, out ...events.OutboxRecord) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.New(apperr.KindNotFound, "order %s not found", id)
		}
		return ErrStatusMismatch
	}

	if err := outbox.InsertTx(ctx, tx, out...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) getOne(ctx context.Context, q string, arg any) (Order, error) {
	found, err := r.list(ctx, q, arg)
	if err != nil {
		return Order{}, err
	}
	if len(found) == 0 {
		return Order{}, apperr.New(apperr.KindNotFound, "order %v not found", arg)
	}
	return found[0], nil
}

func (r *Repo) list(ctx context.Context, q string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var (
			o      Order
			status string
			addr   []byte
			total  string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.UserEmail, &o.OrderNumber, &status, &addr, &total, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Status = Status(status)
		if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("decode address of %s: %w", o.ID, err)
		}
		if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("decode total of %s: %w", o.ID, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

// items loads the lines of every order in ids with one query.
func (r *Repo) items(ctx context.Context, ids []string) (map[string][]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, product_name, price::text, quantity, subtotal::text, image_url
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// scanItems groups line rows by order id, keeping row order.
func scanItems(rows pgx.Rows) (map[string][]LineItem, error) {
	out := map[string][]LineItem{}
	for rows.Next() {
		var (
			orderID    string
			it         LineItem
			price, sub string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.ProductName, &price, &it.Quantity, &sub, &it.ImageURL); err != nil {
			return nil, err
		}
		var err error
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("decode price of %s: %w", orderID, err)
		}
		if it.Subtotal, err = decimal.NewFromString(sub); err != nil {
			return nil, fmt.Errorf("decode subtotal of %s: %w", orderID, err)
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}
