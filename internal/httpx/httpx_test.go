package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/httpx"
	"github.com/ariefcatur/go-commerce-saga/internal/inventory"
	"github.com/ariefcatur/go-commerce-saga/internal/memstore"
	"github.com/ariefcatur/go-commerce-saga/internal/notifications"
	"github.com/ariefcatur/go-commerce-saga/internal/orders"
	"github.com/ariefcatur/go-commerce-saga/internal/payments"
	"github.com/ariefcatur/go-commerce-saga/internal/redisx"
	"github.com/ariefcatur/go-commerce-saga/internal/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapCache map[string]redisx.CachedStatus

func (m mapCache) GetStatus(_ context.Context, id string) (redisx.CachedStatus, bool, error) {
	s, ok := m[id]
	return s, ok, nil
}

type fixture struct {
	srv   *httptest.Server
	cache mapCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := zap.NewNop()
	db := memstore.New()
	cache := mapCache{}

	gw := payments.NewSimulatedGateway()
	gw.Outcome = func(float64) bool { return false }
	gw.Delay = func(time.Duration, time.Duration) time.Duration { return 0 }

	down := notifications.SenderFunc(func(context.Context, notifications.Notification) error {
		return errors.New("smtp down")
	})

	r := httpx.NewRouter(log,
		&httpx.OrdersHandler{
			Orders: orders.NewService(db.Orders(), orders.ServiceConfig{StrictTransitions: true}, log),
			Cache:  cache,
			Log:    log,
		},
		&httpx.InventoryHandler{Ledger: inventory.NewLedger(db.Inventory(), log), Log: log},
		&httpx.PaymentsHandler{Payments: payments.NewProcessor(db.Payments(), gw, payments.ProcessorConfig{}, log), Log: log},
		&httpx.NotificationsHandler{
			Dispatcher: notifications.NewDispatcher(db.Notifications(), map[notifications.Channel]notifications.Sender{
				notifications.ChannelEmail: down,
			}, log),
			Log: log,
		},
		&httpx.AdminHandler{Saga: saga.NewDispatcher(db.DeadLetters(), nil, 0, log), Log: log},
	)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fixture{srv: srv, cache: cache}
}

func (f fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]any
	if res.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(res.Body).Decode(&out)
	}
	return res, out
}

func orderBody() map[string]any {
	return map[string]any{
		"user_id":    "u-1",
		"user_email": "u1@example.com",
		"shipping_address": map[string]any{
			"recipient_name": "Ana", "street": "1 Main St", "city": "Springfield", "zip_code": "12345", "country": "US",
		},
		"items": []map[string]any{
			{"product_id": "p1", "price": "10.00", "quantity": 2},
			{"product_id": "p2", "price": "5.00", "quantity": 1},
		},
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	res, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCreateOrderAndReadStatus(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPost, "/orders", orderBody())
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "25", body["total_amount"])
	assert.Equal(t, "PENDING", body["status"])
	id := body["id"].(string)

	res, body = f.do(t, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, false, body["cached"])

	f.cache[id] = redisx.CachedStatus{Status: "CONFIRMED", UpdatedAt: time.Now()}
	_, body = f.do(t, http.MethodGet, "/orders/"+id+"/status", nil)
	assert.Equal(t, "CONFIRMED", body["status"])
	assert.Equal(t, true, body["cached"])

	res, body = f.do(t, http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "SHIPPED"})
	assert.Equal(t, http.StatusPreconditionFailed, res.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", body["error"])

	res, body = f.do(t, http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "CONFIRMED"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "CONFIRMED", body["status"])

	res, _ = f.do(t, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	b := orderBody()
	b["items"] = []map[string]any{{"product_id": "", "price": "1", "quantity": 0}}

	res, body := f.do(t, http.MethodPost, "/orders", b)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
	assert.NotEmpty(t, body["fields"])

	b = orderBody()
	b["items"] = []map[string]any{{"product_id": "p1", "price": "-1", "quantity": 1}}
	res, _ = f.do(t, http.MethodPost, "/orders", b)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestInventoryEndpoints(t *testing.T) {
	f := newFixture(t)

	res, _ := f.do(t, http.MethodPost, "/inventory", map[string]any{"product_id": "p1", "quantity": 5})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, _ = f.do(t, http.MethodPost, "/inventory", map[string]any{"product_id": "p1", "quantity": 5})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, body := f.do(t, http.MethodPost, "/inventory/p1/reserve", map[string]any{"quantity": 4})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 4, body["reserved_quantity"])

	res, body = f.do(t, http.MethodPost, "/inventory/p1/reserve", map[string]any{"quantity": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "INSUFFICIENT_STOCK", body["error"])

	res, _ = f.do(t, http.MethodPost, "/inventory/p1/commit", map[string]any{"quantity": 5})
	assert.Equal(t, http.StatusFailedDependency, res.StatusCode)

	res, body = f.do(t, http.MethodPatch, "/inventory/p1", map[string]any{"op": "INCREMENT", "amount": 3})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 8, body["quantity"])

	res, _ = f.do(t, http.MethodPost, "/inventory/ghost/release", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = f.do(t, http.MethodGet, "/inventory/ghost", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPaymentEndpoints(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPost, "/payments", map[string]any{
		"order_id": "o-1", "user_id": "u-1", "amount": "25.00", "method": "PAYPAL",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "FAILED", body["status"])
	id := body["id"].(string)

	res, body = f.do(t, http.MethodPost, "/payments/"+id+"/refund", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "REFUND_NOT_ALLOWED", body["error"])

	res, _ = f.do(t, http.MethodPost, "/payments", map[string]any{
		"order_id": "o-1", "user_id": "u-1", "amount": "25.00", "method": "CASH",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestNotificationDeliveryFailure(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPost, "/notifications", map[string]any{
		"user_id": "u-1", "channel": "EMAIL", "recipient": "a@example.com", "subject": "hi", "body": "there",
	})
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "FAILED", body["status"])
	assert.EqualValues(t, 1, body["retry_count"])

	res, body = f.do(t, http.MethodPost, "/notifications/retry-failed", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 1, body["attempted"])
	assert.EqualValues(t, 1, body["failed"])
}

func TestReplayUnknownDeadLetter(t *testing.T) {
	f := newFixture(t)
	res, _ := f.do(t, http.MethodPost, "/admin/dead-letters/nope/replay", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:            http.StatusBadRequest,
		apperr.KindRefundNotAllowed:      http.StatusForbidden,
		apperr.KindNotFound:              http.StatusNotFound,
		apperr.KindDuplicateEntry:        http.StatusConflict,
		apperr.KindInvalidTransition:     http.StatusPreconditionFailed,
		apperr.KindInsufficientStock:     http.StatusUnprocessableEntity,
		apperr.KindOverCommit:            http.StatusFailedDependency,
		apperr.KindPaymentGatewayFailure: http.StatusBadGateway,
		apperr.KindDeliveryFailure:       http.StatusServiceUnavailable,
	}
	for kind, code := range cases {
		assert.Equal(t, code, httpx.StatusFor(apperr.New(kind, "x")), kind)
	}
	assert.Equal(t, http.StatusInternalServerError, httpx.StatusFor(errors.New("boom")))
}
