package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order saga status tags.
const (
	TagCreated   = "CREATED"
	TagConfirmed = "CONFIRMED"
	TagCancelled = "CANCELLED"
)

type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderEvent is the saga contract shared by orders, inventory and
// notifications. The inventory ledger reads only order id and items.
type OrderEvent struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Items       []LineItem      `json:"items"`
	StatusTag   string          `json:"status_tag"`
	OrderNumber string          `json:"order_number,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UserEmail   string          `json:"user_email,omitempty"`
}

type PaymentEvent struct {
	PaymentID       string          `json:"payment_id"`
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	OrderNumber     string          `json:"order_number,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	Method          string          `json:"method"`
	TransactionID   string          `json:"transaction_id"`
	GatewayResponse string          `json:"gateway_response,omitempty"`
	UserEmail       string          `json:"user_email,omitempty"`
	ProcessedAt     time.Time       `json:"processed_at"`
}

// ShipmentEvent is published by the fulfilment side on order-shipped.
type ShipmentEvent struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	OrderNumber    string `json:"order_number,omitempty"`
	UserEmail      string `json:"user_email,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}
