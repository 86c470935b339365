package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const gatewayTimeoutMsg = "gateway timeout"

type ProcessorConfig struct {
	Producer       string
	GatewayTimeout time.Duration
}

type Processor struct {
	store Store
	gw    Gateway
	cfg   ProcessorConfig
	log   *zap.Logger
	now   func() time.Time
}

func NewProcessor(store Store, gw Gateway, cfg ProcessorConfig, log *zap.Logger) *Processor {
	if cfg.Producer == "" {
		cfg.Producer = "payment-service"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 5 * time.Second
	}
	return &Processor{store: store, gw: gw, cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Process charges the order amount. The payment ends SUCCESS or FAILED and a
// payment-processed event is emitted either way.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (Payment, error) {
	if err := validate(req); err != nil {
		return Payment{}, err
	}

	now := p.now()
	pay := Payment{
		ID:            uuid.NewString(),
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		OrderNumber:   req.OrderNumber,
		UserEmail:     req.UserEmail,
		Amount:        req.Amount,
		Status:        StatusPending,
		Method:        req.Method,
		TransactionID: newTransactionID(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.Create(ctx, pay); err != nil {
		return Payment{}, fmt.Errorf("create payment: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	res, err := p.gw.Charge(gctx, ChargeRequest{
		TransactionID: pay.TransactionID,
		Amount:        pay.Amount,
		Method:        pay.Method,
		Card:          req.Card,
	})
	timedOut := errors.Is(gctx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case err != nil && timedOut:
		pay.Status, pay.GatewayResponse = StatusFailed, gatewayTimeoutMsg
	case err != nil:
		pay.Status, pay.GatewayResponse = StatusFailed, "gateway error: "+err.Error()
	case res.Approved:
		pay.Status, pay.GatewayResponse = StatusSuccess, res.Message
	default:
		pay.Status, pay.GatewayResponse = StatusFailed, res.Message
	}
	pay.UpdatedAt = p.now()

	// The gateway has answered; record it even if the caller went away.
	pctx := context.WithoutCancel(ctx)
	rec, err := events.NewOutboxRecord(pctx, events.TopicPaymentProcessed, p.cfg.Producer, pay.OrderID, toEvent(pay))
	if err != nil {
		return Payment{}, err
	}
	if err := p.store.Save(pctx, pay, StatusPending, rec); err != nil {
		return Payment{}, fmt.Errorf("save payment %s: %w", pay.ID, err)
	}

	p.log.Info("payment processed",
		zap.String("payment_id", pay.ID),
		zap.String("order_id", pay.OrderID),
		zap.String("transaction_id", pay.TransactionID),
		zap.String("status", string(pay.Status)),
	)
	return pay, nil
}

// Refund reverses a successful payment. A declined refund leaves the payment
// untouched and emits nothing.
func (p *Processor) Refund(ctx context.Context, id string) (Payment, error) {
	pay, err := p.store.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if pay.Status != StatusSuccess {
		return Payment{}, apperr.New(apperr.KindRefundNotAllowed, "payment %s is %s, only SUCCESS can be refunded", id, pay.Status)
	}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	res, err := p.gw.Refund(gctx, pay)
	timedOut := errors.Is(gctx.Err(), context.DeadlineExceeded)
	cancel()
	switch {
	case err != nil && timedOut:
		return Payment{}, apperr.New(apperr.KindPaymentGatewayFailure, "refund of %s: %s", id, gatewayTimeoutMsg)
	case err != nil:
		return Payment{}, apperr.Wrap(apperr.KindPaymentGatewayFailure, err, "refund of "+id)
	case !res.Approved:
		return Payment{}, apperr.New(apperr.KindPaymentGatewayFailure, "refund of %s: %s", id, res.Message)
	}

	pay.Status = StatusRefunded
	pay.GatewayResponse = res.Message
	pay.UpdatedAt = p.now()

	pctx := context.WithoutCancel(ctx)
	rec, err := events.NewOutboxRecord(pctx, events.TopicPaymentProcessed, p.cfg.Producer, pay.OrderID, toEvent(pay))
	if err != nil {
		return Payment{}, err
	}
	err = p.store.Save(pctx, pay, StatusSuccess, rec)
	if errors.Is(err, ErrStatusMismatch) {
		return Payment{}, apperr.New(apperr.KindRefundNotAllowed, "payment %s changed during refund", id)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("save refund %s: %w", id, err)
	}

	p.log.Info("payment refunded", zap.String("payment_id", id), zap.String("order_id", pay.OrderID))
	return pay, nil
}

func (p *Processor) Get(ctx context.Context, id string) (Payment, error) {
	return p.store.Get(ctx, id)
}

func (p *Processor) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return p.store.ListByOrder(ctx, orderID)
}

func (p *Processor) ListByUser(ctx context.Context, userID string) ([]Payment, error) {
	return p.store.ListByUser(ctx, userID)
}

func toEvent(p Payment) events.PaymentEvent {
	return events.PaymentEvent{
		PaymentID:       p.ID,
		OrderID:         p.OrderID,
		UserID:          p.UserID,
		OrderNumber:     p.OrderNumber,
		Amount:          p.Amount,
		Status:          string(p.Status),
		Method:          string(p.Method),
		TransactionID:   p.TransactionID,
		GatewayResponse: p.GatewayResponse,
		UserEmail:       p.UserEmail,
		ProcessedAt:     p.UpdatedAt,
	}
}

func validate(req ProcessRequest) error {
	switch {
	case strings.TrimSpace(req.OrderID) == "":
		return apperr.New(apperr.KindValidation, "order id is required")
	case strings.TrimSpace(req.UserID) == "":
		return apperr.New(apperr.KindValidation, "user id is required")
	case !req.Amount.IsPositive():
		return apperr.New(apperr.KindValidation, "amount must be positive")
	case !req.Amount.Equal(req.Amount.Round(2)):
		return apperr.New(apperr.KindValidation, "amount has more than 2 decimal places")
	case !req.Method.Valid():
		return apperr.New(apperr.KindValidation, "unknown payment method %q", req.Method)
	}
	return nil
}

func newTransactionID() string {
	return "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
