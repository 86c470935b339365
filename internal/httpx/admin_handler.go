package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-commerce-saga/internal/saga"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler exposes the dead-letter store for inspection and replay.
type AdminHandler struct {
	Saga *saga.Dispatcher
	Log  *zap.Logger
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/admin/dead-letters", h.list)
	r.Post("/admin/dead-letters/{id}/replay", h.replay)
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) {
	dls, err := h.Saga.DeadLetters(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, dls)
}

func (h *AdminHandler) replay(w http.ResponseWriter, r *http.Request) {
	dl, err := h.Saga.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dl)
}
