package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/orders"
	"github.com/ariefcatur/go-commerce-saga/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusReader is the read side of the order status cache.
type StatusReader interface {
	GetStatus(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
}

type OrdersHandler struct {
	Orders *orders.Service
	Cache  StatusReader // optional
	Log    *zap.Logger
}

type addressReq struct {
	RecipientName string `json:"recipient_name" validate:"required"`
	Street        string `json:"street" validate:"required"`
	City          string `json:"city" validate:"required"`
	State         string `json:"state"`
	ZipCode       string `json:"zip_code" validate:"required"`
	Country       string `json:"country" validate:"required"`
	Phone         string `json:"phone"`
}

type orderItemReq struct {
	ProductID   string          `json:"product_id" validate:"required"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"required,min=1"`
	ImageURL    string          `json:"image_url"`
}

type CreateOrderReq struct {
	UserID          string         `json:"user_id" validate:"required"`
	UserEmail       string         `json:"user_email" validate:"omitempty,email"`
	ShippingAddress addressReq     `json:"shipping_address"`
	Items           []orderItemReq `json:"items" validate:"required,min=1,dive"`
}

type UpdateStatusReq struct {
	Status orders.Status `json:"status" validate:"required"`
}

type orderStatusResp struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Cached    bool      `json:"cached"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Get("/orders/number/{number}", h.getByNumber)
	r.Get("/users/{userID}/orders", h.listByUser)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !bind(w, r, &req) {
		return
	}
	in := orders.CreateInput{
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		ShippingAddress: orders.Address{
			RecipientName: req.ShippingAddress.RecipientName,
			Street:        req.ShippingAddress.Street,
			City:          req.ShippingAddress.City,
			State:         req.ShippingAddress.State,
			ZipCode:       req.ShippingAddress.ZipCode,
			Country:       req.ShippingAddress.Country,
			Phone:         req.ShippingAddress.Phone,
		},
		Items: make([]orders.ItemInput, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, orders.ItemInput{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Price:       it.Price,
			Quantity:    it.Quantity,
			ImageURL:    it.ImageURL,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Create(ctx, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	os, err := h.Orders.List(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, os)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listByUser(w http.ResponseWriter, r *http.Request) {
	os, err := h.Orders.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, os)
}

// getStatus answers from the cache and falls back to the store on a miss
// or a cache fault.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		s, ok, err := h.Cache.GetStatus(ctx, id)
		if err != nil {
			h.Log.Warn("status cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, orderStatusResp{OrderID: id, Status: s.Status, UpdatedAt: s.UpdatedAt, Cached: true})
			return
		}
	}

	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, orderStatusResp{OrderID: o.ID, Status: string(o.Status), UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if !bind(w, r, &req) {
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
