package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-commerce-saga/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentsHandler struct {
	Payments *payments.Processor
	Log      *zap.Logger
}

type cardReq struct {
	Number     string `json:"card_number" validate:"required"`
	Holder     string `json:"card_holder"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv" validate:"required,len=3|len=4"`
}

type ProcessPaymentReq struct {
	OrderID     string          `json:"order_id" validate:"required"`
	UserID      string          `json:"user_id" validate:"required"`
	OrderNumber string          `json:"order_number"`
	UserEmail   string          `json:"user_email" validate:"omitempty,email"`
	Amount      decimal.Decimal `json:"amount"`
	Method      payments.Method `json:"method" validate:"required,oneof=CREDIT_CARD DEBIT_CARD PAYPAL BANK_TRANSFER"`
	Card        *cardReq        `json:"card,omitempty"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments", h.process)
	r.Get("/payments/{id}", h.get)
	r.Post("/payments/{id}/refund", h.refund)
	r.Get("/orders/{id}/payments", h.listByOrder)
	r.Get("/users/{userID}/payments", h.listByUser)
}

// process blocks for the gateway round trip; the response carries the
// final SUCCESS or FAILED payment.
func (h *PaymentsHandler) process(w http.ResponseWriter, r *http.Request) {
	var req ProcessPaymentReq
	if !bind(w, r, &req) {
		return
	}
	in := payments.ProcessRequest{
		OrderID:     req.OrderID,
		UserID:      req.UserID,
		OrderNumber: req.OrderNumber,
		UserEmail:   req.UserEmail,
		Amount:      req.Amount,
		Method:      req.Method,
	}
	if req.Card != nil {
		in.Card = &payments.CardDetails{
			Number:     req.Card.Number,
			Holder:     req.Card.Holder,
			ExpiryDate: req.Card.ExpiryDate,
			CVV:        req.Card.CVV,
		}
	}
	p, err := h.Payments.Process(r.Context(), in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.Refund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) listByOrder(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Payments.ListByOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *PaymentsHandler) listByUser(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Payments.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
