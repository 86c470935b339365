package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/notifications"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type NotificationsHandler struct {
	Dispatcher *notifications.Dispatcher
	Log        *zap.Logger
}

type SendNotificationReq struct {
	UserID    string                `json:"user_id" validate:"required"`
	Channel   notifications.Channel `json:"channel" validate:"required,oneof=EMAIL SMS"`
	Recipient string                `json:"recipient" validate:"required"`
	Subject   string                `json:"subject"`
	Body      string                `json:"body"`
}

func (h *NotificationsHandler) Register(r chi.Router) {
	r.Post("/notifications", h.send)
	r.Get("/notifications/pending", h.pending)
	r.Get("/notifications/failed", h.failed)
	r.Post("/notifications/retry-failed", h.retryFailed)
	r.Get("/users/{userID}/notifications", h.listByUser)
}

// send answers 503 with the stored FAILED record when delivery fails, so
// the caller can still see the id the retry loop will work on.
func (h *NotificationsHandler) send(w http.ResponseWriter, r *http.Request) {
	var req SendNotificationReq
	if !bind(w, r, &req) {
		return
	}
	n, err := h.Dispatcher.Send(r.Context(), notifications.SendInput{
		UserID:    req.UserID,
		Channel:   req.Channel,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, n)
	case apperr.Is(err, apperr.KindDeliveryFailure) && n.ID != "":
		writeJSON(w, StatusFor(err), n)
	default:
		writeError(w, h.Log, err)
	}
}

func (h *NotificationsHandler) pending(w http.ResponseWriter, r *http.Request) {
	ns, err := h.Dispatcher.ListPending(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *NotificationsHandler) failed(w http.ResponseWriter, r *http.Request) {
	ns, err := h.Dispatcher.ListFailed(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *NotificationsHandler) retryFailed(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Dispatcher.RetryFailed(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *NotificationsHandler) listByUser(w http.ResponseWriter, r *http.Request) {
	ns, err := h.Dispatcher.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}
