package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const casAttempts = 3

type ServiceConfig struct {
	Producer          string
	StrictTransitions bool
	Cache             StatusCache
}

// Service is the order lifecycle manager.
type Service struct {
	store Store
	cfg   ServiceConfig
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, cfg ServiceConfig, log *zap.Logger) *Service {
	if cfg.Producer == "" {
		cfg.Producer = "order-api"
	}
	return &Service{store: store, cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if err := validateCreate(in); err != nil {
		return Order{}, err
	}

	now := s.now()
	o := Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		UserEmail:       in.UserEmail,
		OrderNumber:     newOrderNumber(now),
		Status:          StatusPending,
		ShippingAddress: in.ShippingAddress,
		Items:           make([]LineItem, 0, len(in.Items)),
		TotalAmount:     decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, it := range in.Items {
		sub := it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.Items = append(o.Items, LineItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Price:       it.Price,
			Quantity:    it.Quantity,
			Subtotal:    sub,
			ImageURL:    it.ImageURL,
		})
		o.TotalAmount = o.TotalAmount.Add(sub)
	}

	rec, err := events.NewOutboxRecord(ctx, events.TopicOrderCreated, s.cfg.Producer, o.ID, toEvent(o, events.TagCreated))
	if err != nil {
		return Order{}, err
	}
	if err := s.store.Create(ctx, o, rec); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	s.cacheStatus(ctx, o)

	s.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(o.Items)),
	)
	return o, nil
}

// UpdateStatus moves the order to next. Only CONFIRMED and CANCELLED emit
// saga events; a same-status update is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status) (Order, error) {
	if !next.Valid() {
		return Order{}, apperr.New(apperr.KindValidation, "unknown order status %q", next)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return Order{}, err
		}
		if o.Status == next {
			return o, nil
		}
		if s.cfg.StrictTransitions && !CanTransition(o.Status, next) {
			return Order{}, apperr.New(apperr.KindInvalidTransition, "order %s: %s -> %s not allowed", id, o.Status, next)
		}

		prev := o.Status
		o.Status = next
		o.UpdatedAt = s.now()

		var out []events.OutboxRecord
		if topic, tag, ok := sagaTopic(next); ok {
			rec, err := events.NewOutboxRecord(ctx, topic, s.cfg.Producer, o.ID, toEvent(o, tag))
			if err != nil {
				return Order{}, err
			}
			out = append(out, rec)
		}

		err = s.store.UpdateStatus(ctx, id, prev, next, o.UpdatedAt, out...)
		if errors.Is(err, ErrStatusMismatch) {
			continue
		}
		if err != nil {
			return Order{}, fmt.Errorf("update order status: %w", err)
		}

		s.cacheStatus(ctx, o)
		s.log.Info("order status updated",
			zap.String("order_id", id),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
			zap.Bool("event", len(out) > 0),
		)
		return o, nil
	}
	return Order{}, fmt.Errorf("update order %s: %w", id, ErrStatusMismatch)
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (Order, error) {
	return s.store.GetByNumber(ctx, number)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.store.List(ctx)
}

func (s *Service) cacheStatus(ctx context.Context, o Order) {
	if s.cfg.Cache == nil {
		return
	}
	if err := s.cfg.Cache.PutStatus(ctx, o.ID, string(o.Status), o.UpdatedAt); err != nil {
		s.log.Warn("status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func sagaTopic(s Status) (topic, tag string, ok bool) {
	switch s {
	case StatusConfirmed:
		return events.TopicOrderConfirmed, events.TagConfirmed, true
	case StatusCancelled:
		return events.TopicOrderCancelled, events.TagCancelled, true
	}
	return "", "", false
}

func toEvent(o Order, tag string) events.OrderEvent {
	items := make([]events.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, events.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return events.OrderEvent{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Items:       items,
		StatusTag:   tag,
		OrderNumber: o.OrderNumber,
		TotalAmount: o.TotalAmount,
		UserEmail:   o.UserEmail,
	}
}

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return apperr.New(apperr.KindValidation, "user id is required")
	}
	if len(in.Items) == 0 {
		return apperr.New(apperr.KindValidation, "order must contain at least one item")
	}
	for i, it := range in.Items {
		switch {
		case strings.TrimSpace(it.ProductID) == "":
			return apperr.New(apperr.KindValidation, "item %d: product id is required", i)
		case it.Quantity <= 0:
			return apperr.New(apperr.KindValidation, "item %d: quantity must be positive", i)
		case it.Price.IsNegative():
			return apperr.New(apperr.KindValidation, "item %d: price must not be negative", i)
		case !it.Price.Equal(it.Price.Round(2)):
			return apperr.New(apperr.KindValidation, "item %d: price has more than 2 decimal places", i)
		}
	}
	return nil
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}
