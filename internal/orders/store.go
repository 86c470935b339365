package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
)

// ErrStatusMismatch is returned by Store.UpdateStatus when the stored status
// is no longer the expected one.
var ErrStatusMismatch = errors.New("order status changed concurrently")

// Store persists orders. Outbox records passed to Create and UpdateStatus are
// written atomically with the order row.
type Store interface {
	Create(ctx context.Context, o Order, out ...events.OutboxRecord) error
	Get(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time, out ...events.OutboxRecord) error
}

// StatusCache is an optional read-through cache for order status.
type StatusCache interface {
	PutStatus(ctx context.Context, orderID, status string, updatedAt time.Time) error
}
