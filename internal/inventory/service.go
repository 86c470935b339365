package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"go.uber.org/zap"
)

// Service binds the order saga topics to the ledger.
type Service struct {
	Ledger *Ledger
	Dedup  events.Deduper // optional fast path; the store's processed log is authoritative
	Log    *zap.Logger
}

func (s *Service) HandleOrderCreated(ctx context.Context, env events.Envelope) error {
	return s.handle(ctx, env, s.Ledger.ReserveForOrder)
}

func (s *Service) HandleOrderConfirmed(ctx context.Context, env events.Envelope) error {
	return s.handle(ctx, env, s.Ledger.CommitForOrder)
}

func (s *Service) HandleOrderCancelled(ctx context.Context, env events.Envelope) error {
	return s.handle(ctx, env, s.Ledger.ReleaseForOrder)
}

type ledgerOp func(ctx context.Context, orderID string, items []events.LineItem) (bool, error)

func (s *Service) handle(ctx context.Context, env events.Envelope, op ledgerOp) error {
	ev, err := events.UnwrapPayload[events.OrderEvent](env)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "order event")
	}
	if ev.OrderID == "" {
		return apperr.New(apperr.KindValidation, "%s without order id", env.EventType)
	}
	log := s.Log.With(zap.String("order_id", ev.OrderID), zap.String("event_type", env.EventType), zap.String("event_id", env.EventID))

	dkey := fmt.Sprintf("inventory:%s:%s", ev.OrderID, env.EventType)
	if s.Dedup != nil {
		if seen, err := s.Dedup.Seen(ctx, dkey); err == nil && seen {
			log.Debug("duplicate event skipped (cache)")
			return nil
		}
	}

	applied, err := op(ctx, ev.OrderID, ev.Items)
	if err != nil {
		return err
	}
	if !applied {
		log.Info("duplicate event skipped")
	} else {
		log.Info("ledger updated", zap.Int("lines", len(ev.Items)))
	}

	if s.Dedup != nil {
		if err := s.Dedup.Mark(ctx, dkey); err != nil {
			log.Warn("dedup mark failed", zap.Error(err))
		}
	}
	return nil
}
