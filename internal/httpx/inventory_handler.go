package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-commerce-saga/internal/inventory"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	Ledger *inventory.Ledger
	Log    *zap.Logger
}

type ProvisionReq struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=0"`
}

type AdjustReq struct {
	Op     inventory.Op `json:"op" validate:"required,oneof=INCREMENT DECREMENT SET"`
	Amount int          `json:"amount" validate:"min=0"`
}

type QuantityReq struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Post("/", h.provision)
		r.Get("/", h.list)
		r.Get("/{productID}", h.get)
		r.Patch("/{productID}", h.adjust)
		r.Post("/{productID}/reserve", h.reserve)
		r.Post("/{productID}/commit", h.commit)
		r.Post("/{productID}/release", h.release)
	})
}

func (h *InventoryHandler) provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionReq
	if !bind(w, r, &req) {
		return
	}
	e, err := h.Ledger.Provision(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *InventoryHandler) list(w http.ResponseWriter, r *http.Request) {
	es, err := h.Ledger.List(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, es)
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustReq
	if !bind(w, r, &req) {
		return
	}
	e, err := h.Ledger.Adjust(r.Context(), chi.URLParam(r, "productID"), req.Op, req.Amount)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req QuantityReq
	if !bind(w, r, &req) {
		return
	}
	e, err := h.Ledger.Reserve(r.Context(), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *InventoryHandler) commit(w http.ResponseWriter, r *http.Request) {
	var req QuantityReq
	if !bind(w, r, &req) {
		return
	}
	e, err := h.Ledger.Commit(r.Context(), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	var req QuantityReq
	if !bind(w, r, &req) {
		return
	}
	pid := chi.URLParam(r, "productID")
	e, found, err := h.Ledger.Release(r.Context(), pid, req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if !found {
		// releasing an unknown product is a no-op
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
