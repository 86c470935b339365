package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindDuplicateEntry        Kind = "DUPLICATE_ENTRY"
	KindInsufficientStock     Kind = "INSUFFICIENT_STOCK"
	KindOverCommit            Kind = "OVER_COMMIT"
	KindRefundNotAllowed      Kind = "REFUND_NOT_ALLOWED"
	KindPaymentGatewayFailure Kind = "PAYMENT_GATEWAY_FAILURE"
	KindDeliveryFailure       Kind = "DELIVERY_FAILURE"
	KindValidation            Kind = "VALIDATION_ERROR"
	KindInvalidTransition     Kind = "INVALID_TRANSITION"
)

// Error is a domain failure carrying one of the kinds above.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Retryable marks err as transient. Event handlers retry transient errors
// with backoff instead of dead-lettering them.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryable{err: err}
}

// IsRetryable reports whether err should be retried. Errors explicitly marked
// with Retryable are transient; domain errors are permanent; anything else
// (network, storage) is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return true
	}
	return KindOf(err) == ""
}
