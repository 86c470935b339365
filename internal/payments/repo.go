package payments

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const paymentColumns = `id, order_id, user_id, order_number, user_email, amount::text, status, method,
	transaction_id, gateway_response, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, p Payment) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, user_id, order_number, user_email, amount, status, method,
			transaction_id, gateway_response, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.OrderID, p.UserID, p.OrderNumber, p.UserEmail, p.Amount.String(), string(p.Status), string(p.Method),
		p.TransactionID, p.GatewayResponse, p.CreatedAt, p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Wrap(apperr.KindDuplicateEntry, err, "transaction "+p.TransactionID)
	}
	return err
}

func (r *Repo) Save(ctx context.Context, p Payment, expect Status, out ...events.OutboxRecord) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE payments SET status=$3, gateway_response=$4, updated_at=$5
		WHERE id=$1 AND status=$2`,
		p.ID, string(expect), string(p.Status), p.GatewayResponse, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrStatusMismatch
	}
	if err := outbox.InsertTx(ctx, tx, out...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (Payment, error) {
	ps, err := r.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
	if err != nil {
		return Payment{}, err
	}
	if len(ps) == 0 {
		return Payment{}, apperr.New(apperr.KindNotFound, "payment %s not found", id)
	}
	return ps[0], nil
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return r.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 ORDER BY created_at`, orderID)
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Payment, error) {
	return r.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *Repo) query(ctx context.Context, q string, args ...any) ([]Payment, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var (
			p              Payment
			amount         string
			status, method string
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.UserID, &p.OrderNumber, &p.UserEmail, &amount, &status, &method,
			&p.TransactionID, &p.GatewayResponse, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		p.Status, p.Method = Status(status), Method(method)
		out = append(out, p)
	}
	return out, rows.Err()
}
