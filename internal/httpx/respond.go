package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindRefundNotAllowed:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicateEntry:
		return http.StatusConflict
	case apperr.KindInvalidTransition:
		return http.StatusPreconditionFailed
	case apperr.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case apperr.KindOverCommit:
		return http.StatusFailedDependency
	case apperr.KindPaymentGatewayFailure:
		return http.StatusBadGateway
	case apperr.KindDeliveryFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := StatusFor(err)
	kind := string(apperr.KindOf(err))
	if code == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeJSON(w, code, errorBody{Error: "INTERNAL_ERROR", Message: "internal error"})
		return
	}
	writeJSON(w, code, errorBody{Error: kind, Message: err.Error()})
}

// bind decodes the JSON body into out and runs struct validation. It writes
// the 400 response itself and reports false when the handler should stop.
func bind(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: string(apperr.KindValidation), Message: "invalid json: " + err.Error()})
		return false
	}
	if err := validate.Struct(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   string(apperr.KindValidation),
			Message: "validation failed",
			Fields:  fieldErrors(err),
		})
		return false
	}
	return true
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Namespace()] = fe.Tag()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
