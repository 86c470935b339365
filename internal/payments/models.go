package payments

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

type Method string

const (
	MethodCreditCard   Method = "CREDIT_CARD"
	MethodDebitCard    Method = "DEBIT_CARD"
	MethodPayPal       Method = "PAYPAL"
	MethodBankTransfer Method = "BANK_TRANSFER"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodPayPal, MethodBankTransfer:
		return true
	}
	return false
}

// CardDetails go to the gateway only and are never stored.
type CardDetails struct {
	Number     string `json:"card_number"`
	Holder     string `json:"card_holder"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv"`
}

type Payment struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	OrderNumber     string          `json:"order_number,omitempty"`
	UserEmail       string          `json:"user_email,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          Status          `json:"status"`
	Method          Method          `json:"method"`
	TransactionID   string          `json:"transaction_id"`
	GatewayResponse string          `json:"gateway_response,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ProcessRequest struct {
	OrderID     string
	UserID      string
	OrderNumber string
	UserEmail   string
	Amount      decimal.Decimal
	Method      Method
	Card        *CardDetails
}

var ErrStatusMismatch = errors.New("payment status changed concurrently")

type Store interface {
	Create(ctx context.Context, p Payment) error
	// Save overwrites p if its stored status still equals expect, and writes
	// out in the same transaction. Otherwise it returns ErrStatusMismatch.
	Save(ctx context.Context, p Payment, expect Status, out ...events.OutboxRecord) error
	Get(ctx context.Context, id string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	ListByUser(ctx context.Context, userID string) ([]Payment, error)
}
