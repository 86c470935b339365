package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Dispatcher struct {
	store   Store
	senders map[Channel]Sender
	log     *zap.Logger
	now     func() time.Time
}

func NewDispatcher(store Store, senders map[Channel]Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, senders: senders, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Send persists the notification and delivers it synchronously. On a delivery
// fault the FAILED record is still returned, along with a DeliveryFailure.
func (d *Dispatcher) Send(ctx context.Context, in SendInput) (Notification, error) {
	if err := validateSend(in); err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Channel:   in.Channel,
		Recipient: in.Recipient,
		Subject:   in.Subject,
		Body:      in.Body,
		Status:    StatusPending,
		CreatedAt: d.now(),
	}
	if err := d.store.Create(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("create notification: %w", err)
	}

	derr := d.deliver(ctx, &n)
	if err := d.store.Update(context.WithoutCancel(ctx), n); err != nil {
		return Notification{}, fmt.Errorf("save notification %s: %w", n.ID, err)
	}
	if derr != nil {
		return n, derr
	}
	return n, nil
}

type RetryReport struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// RetryFailed makes one delivery attempt for every FAILED record that has
// retries left.
func (d *Dispatcher) RetryFailed(ctx context.Context) (RetryReport, error) {
	var rep RetryReport
	due, err := d.store.ListRetryable(ctx, MaxRetries)
	if err != nil {
		return rep, fmt.Errorf("list retryable notifications: %w", err)
	}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n := due[i]
		if n.Status != StatusFailed || n.RetryCount >= MaxRetries {
			continue
		}
		rep.Attempted++
		if d.deliver(ctx, &n) == nil {
			rep.Sent++
		} else {
			rep.Failed++
		}
		if err := d.store.Update(context.WithoutCancel(ctx), n); err != nil {
			return rep, fmt.Errorf("save notification %s: %w", n.ID, err)
		}
	}
	if rep.Attempted > 0 {
		d.log.Info("notification retry pass", zap.Int("attempted", rep.Attempted), zap.Int("sent", rep.Sent), zap.Int("failed", rep.Failed))
	}
	return rep, nil
}

// RunRetryLoop calls RetryFailed every interval until ctx is done.
func (d *Dispatcher) RunRetryLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := d.RetryFailed(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("notification retry pass failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) ListByUser(ctx context.Context, userID string) ([]Notification, error) {
	return d.store.ListByUser(ctx, userID)
}

func (d *Dispatcher) ListPending(ctx context.Context) ([]Notification, error) {
	return d.store.ListByStatus(ctx, StatusPending)
}

func (d *Dispatcher) ListFailed(ctx context.Context) ([]Notification, error) {
	return d.store.ListByStatus(ctx, StatusFailed)
}

// deliver attempts one delivery and records the outcome on n.
func (d *Dispatcher) deliver(ctx context.Context, n *Notification) error {
	var err error
	if s, ok := d.senders[n.Channel]; ok {
		err = s.Send(ctx, *n)
	} else {
		err = fmt.Errorf("no sender for channel %s", n.Channel)
	}

	if err == nil {
		at := d.now()
		n.Status, n.SentAt, n.ErrorMessage = StatusSent, &at, ""
		return nil
	}
	n.Status = StatusFailed
	n.RetryCount = min(n.RetryCount+1, MaxRetries)
	n.ErrorMessage = err.Error()
	d.log.Warn("notification delivery failed",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.Int("retry_count", n.RetryCount),
		zap.Error(err),
	)
	return apperr.Wrap(apperr.KindDeliveryFailure, err, "deliver notification "+n.ID)
}

func validateSend(in SendInput) error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return apperr.New(apperr.KindValidation, "user id is required")
	case !in.Channel.Valid():
		return apperr.New(apperr.KindValidation, "unknown channel %q", in.Channel)
	case strings.TrimSpace(in.Recipient) == "":
		return apperr.New(apperr.KindValidation, "recipient is required")
	}
	return nil
}
