package notifications

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"go.uber.org/zap"
)

// Handlers turn saga events into email notifications.
type Handlers struct {
	Dispatcher *Dispatcher
	Dedup      events.Deduper
	Log        *zap.Logger
}

func (h *Handlers) HandleOrderConfirmed(ctx context.Context, env events.Envelope) error {
	ev, err := events.UnwrapPayload[events.OrderEvent](env)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "order event")
	}
	subject, body := OrderConfirmation(ev)
	return h.notify(ctx, env, ev.UserID, ev.UserEmail, subject, body)
}

func (h *Handlers) HandlePaymentProcessed(ctx context.Context, env events.Envelope) error {
	ev, err := events.UnwrapPayload[events.PaymentEvent](env)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "payment event")
	}
	subject, body := PaymentConfirmation(ev)
	return h.notify(ctx, env, ev.UserID, ev.UserEmail, subject, body)
}

func (h *Handlers) HandleOrderShipped(ctx context.Context, env events.Envelope) error {
	ev, err := events.UnwrapPayload[events.ShipmentEvent](env)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "shipment event")
	}
	subject, body := ShippingUpdate(ev)
	return h.notify(ctx, env, ev.UserID, ev.UserEmail, subject, body)
}

// notify sends once per event id. Delivery faults are left to the retry
// loop and do not fail the handler.
func (h *Handlers) notify(ctx context.Context, env events.Envelope, userID, recipient, subject, body string) error {
	log := h.Log.With(zap.String("event_type", env.EventType), zap.String("event_id", env.EventID))
	if recipient == "" {
		log.Warn("event has no recipient, notification skipped")
		return nil
	}

	key := fmt.Sprintf("notifications:%s", env.EventID)
	if h.Dedup != nil {
		seen, err := h.Dedup.Seen(ctx, key)
		if err != nil {
			log.Warn("dedup lookup failed, sending anyway", zap.Error(err))
		}
		if seen {
			log.Debug("duplicate event skipped")
			return nil
		}
	}

	n, err := h.Dispatcher.Send(ctx, SendInput{
		UserID:    userID,
		Channel:   ChannelEmail,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil && !apperr.Is(err, apperr.KindDeliveryFailure) {
		return err
	}
	log.Info("notification recorded", zap.String("notification_id", n.ID), zap.String("status", string(n.Status)))

	if h.Dedup != nil {
		if err := h.Dedup.Mark(ctx, key); err != nil {
			log.Warn("dedup mark failed", zap.Error(err))
		}
	}
	return nil
}
