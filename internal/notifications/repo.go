package notifications

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const notificationColumns = `id, user_id, channel, recipient, subject, body, status, retry_count, error_message, created_at, sent_at`

func (r *Repo) Create(ctx context.Context, n Notification) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO notifications(id, user_id, channel, recipient, subject, body, status, retry_count, error_message, created_at, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		n.ID, n.UserID, string(n.Channel), n.Recipient, n.Subject, n.Body, string(n.Status), n.RetryCount, n.ErrorMessage, n.CreatedAt, n.SentAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Wrap(apperr.KindDuplicateEntry, err, "notification "+n.ID)
	}
	return err
}

func (r *Repo) Update(ctx context.Context, n Notification) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE notifications SET status=$2, retry_count=$3, error_message=$4, sent_at=$5
		WHERE id=$1`,
		n.ID, string(n.Status), n.RetryCount, n.ErrorMessage, n.SentAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "notification %s not found", n.ID)
	}
	return nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Notification, error) {
	return r.query(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *Repo) ListByStatus(ctx context.Context, status Status) ([]Notification, error) {
	return r.query(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE status=$1 ORDER BY created_at`, string(status))
}

func (r *Repo) ListRetryable(ctx context.Context, maxRetries int) ([]Notification, error) {
	return r.query(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE status='FAILED' AND retry_count < $1 ORDER BY created_at`, maxRetries)
}

func (r *Repo) query(ctx context.Context, q string, args ...any) ([]Notification, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n               Notification
			channel, status string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &channel, &n.Recipient, &n.Subject, &n.Body, &status,
			&n.RetryCount, &n.ErrorMessage, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, err
		}
		n.Channel, n.Status = Channel(channel), Status(status)
		out = append(out, n)
	}
	return out, rows.Err()
}
