package payments_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/memstore"
	"github.com/ariefcatur/go-commerce-saga/internal/payments"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubGateway struct {
	charge payments.Result
	refund payments.Result
	err    error
	block  bool
}

func (g *stubGateway) Charge(ctx context.Context, _ payments.ChargeRequest) (payments.Result, error) {
	if g.block {
		<-ctx.Done()
		return payments.Result{}, ctx.Err()
	}
	return g.charge, g.err
}

func (g *stubGateway) Refund(ctx context.Context, _ payments.Payment) (payments.Result, error) {
	if g.block {
		<-ctx.Done()
		return payments.Result{}, ctx.Err()
	}
	return g.refund, g.err
}

func approving() *stubGateway {
	return &stubGateway{
		charge: payments.Result{Approved: true, Message: "Payment processed successfully"},
		refund: payments.Result{Approved: true, Message: "Refund processed successfully"},
	}
}

func request() payments.ProcessRequest {
	return payments.ProcessRequest{
		OrderID:     "o-1",
		UserID:      "u-1",
		OrderNumber: "ORD-1-ABCDEF",
		UserEmail:   "u1@example.com",
		Amount:      decimal.RequireFromString("25.00"),
		Method:      payments.MethodCreditCard,
		Card:        &payments.CardDetails{Number: "4111111111111111", CVV: "123"},
	}
}

func paymentEvents(t *testing.T, db *memstore.DB) []events.PaymentEvent {
	t.Helper()
	var out []events.PaymentEvent
	for _, r := range db.Outbox().Records() {
		if r.Topic != events.TopicPaymentProcessed {
			continue
		}
		env, err := r.Envelope()
		require.NoError(t, err)
		ev, err := events.UnwrapPayload[events.PaymentEvent](env)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestProcessApproved(t *testing.T) {
	db := memstore.New()
	p := payments.NewProcessor(db.Payments(), approving(), payments.ProcessorConfig{}, zaptest.NewLogger(t))

	pay, err := p.Process(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, payments.StatusSuccess, pay.Status)
	assert.Regexp(t, `^TXN-[0-9A-F]{12}$`, pay.TransactionID)

	stored, err := p.Get(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, stored.Status)

	evs := paymentEvents(t, db)
	require.Len(t, evs, 1)
	assert.Equal(t, pay.TransactionID, evs[0].TransactionID)
	assert.Equal(t, "SUCCESS", evs[0].Status)
	assert.Equal(t, "o-1", evs[0].OrderID)
	assert.True(t, evs[0].Amount.Equal(decimal.RequireFromString("25.00")))
}

func TestProcessDeclined(t *testing.T) {
	db := memstore.New()
	gw := &stubGateway{charge: payments.Result{Message: "Payment declined by gateway"}}
	p := payments.NewProcessor(db.Payments(), gw, payments.ProcessorConfig{}, zaptest.NewLogger(t))

	pay, err := p.Process(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, pay.Status)
	assert.Equal(t, "Payment declined by gateway", pay.GatewayResponse)

	evs := paymentEvents(t, db)
	require.Len(t, evs, 1)
	assert.Equal(t, "FAILED", evs[0].Status)
}

func TestProcessGatewayTimeout(t *testing.T) {
	db := memstore.New()
	p := payments.NewProcessor(db.Payments(), &stubGateway{block: true},
		payments.ProcessorConfig{GatewayTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))

	pay, err := p.Process(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, pay.Status)
	assert.Equal(t, "gateway timeout", pay.GatewayResponse)
	assert.Len(t, paymentEvents(t, db), 1)
}

func TestProcessValidation(t *testing.T) {
	db := memstore.New()
	p := payments.NewProcessor(db.Payments(), approving(), payments.ProcessorConfig{}, zaptest.NewLogger(t))

	bad := request()
	bad.Amount = decimal.Zero
	_, err := p.Process(context.Background(), bad)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	bad = request()
	bad.Amount = decimal.RequireFromString("10.005")
	_, err = p.Process(context.Background(), bad)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	bad = request()
	bad.Method = "CASH"
	_, err = p.Process(context.Background(), bad)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	assert.Empty(t, db.Outbox().Records())
}

func TestProcessAcceptsCentAmountsWithTrailingZeros(t *testing.T) {
	db := memstore.New()
	p := payments.NewProcessor(db.Payments(), approving(), payments.ProcessorConfig{}, zaptest.NewLogger(t))

	req := request()
	req.Amount = decimal.RequireFromString("10.500")
	pay, err := p.Process(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, pay.Amount.Equal(decimal.RequireFromString("10.50")))

	evs := paymentEvents(t, db)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Amount.Equal(pay.Amount))
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	gw := approving()
	p := payments.NewProcessor(db.Payments(), gw, payments.ProcessorConfig{}, zaptest.NewLogger(t))

	pay, err := p.Process(ctx, request())
	require.NoError(t, err)

	refunded, err := p.Refund(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusRefunded, refunded.Status)

	evs := paymentEvents(t, db)
	require.Len(t, evs, 2)
	assert.Equal(t, "REFUNDED", evs[1].Status)

	_, err = p.Refund(ctx, pay.ID)
	assert.True(t, apperr.Is(err, apperr.KindRefundNotAllowed), "already refunded")
}

func TestRefundRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("failed payment", func(t *testing.T) {
		db := memstore.New()
		p := payments.NewProcessor(db.Payments(), &stubGateway{}, payments.ProcessorConfig{}, zaptest.NewLogger(t))
		pay, err := p.Process(ctx, request())
		require.NoError(t, err)
		require.Equal(t, payments.StatusFailed, pay.Status)

		_, err = p.Refund(ctx, pay.ID)
		assert.True(t, apperr.Is(err, apperr.KindRefundNotAllowed))
	})

	t.Run("gateway declines", func(t *testing.T) {
		db := memstore.New()
		gw := approving()
		p := payments.NewProcessor(db.Payments(), gw, payments.ProcessorConfig{}, zaptest.NewLogger(t))
		pay, err := p.Process(ctx, request())
		require.NoError(t, err)

		gw.refund = payments.Result{Message: "Refund declined by gateway"}
		_, err = p.Refund(ctx, pay.ID)
		assert.True(t, apperr.Is(err, apperr.KindPaymentGatewayFailure))

		stored, err := p.Get(ctx, pay.ID)
		require.NoError(t, err)
		assert.Equal(t, payments.StatusSuccess, stored.Status)
		assert.Len(t, paymentEvents(t, db), 1)
	})

	t.Run("gateway error", func(t *testing.T) {
		db := memstore.New()
		gw := approving()
		p := payments.NewProcessor(db.Payments(), gw, payments.ProcessorConfig{}, zaptest.NewLogger(t))
		pay, err := p.Process(ctx, request())
		require.NoError(t, err)

		gw.err = errors.New("connection reset")
		_, err = p.Refund(ctx, pay.ID)
		assert.True(t, apperr.Is(err, apperr.KindPaymentGatewayFailure))
	})

	t.Run("unknown payment", func(t *testing.T) {
		p := payments.NewProcessor(memstore.New().Payments(), approving(), payments.ProcessorConfig{}, zaptest.NewLogger(t))
		_, err := p.Refund(ctx, "missing")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	p := payments.NewProcessor(db.Payments(), approving(), payments.ProcessorConfig{}, zaptest.NewLogger(t))

	_, err := p.Process(ctx, request())
	require.NoError(t, err)
	second := request()
	second.OrderID = "o-2"
	_, err = p.Process(ctx, second)
	require.NoError(t, err)

	byOrder, err := p.ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, byOrder, 1)

	byUser, err := p.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)
}
