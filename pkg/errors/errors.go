package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeForbidden              Code = "FORBIDDEN"
	CodeNotFound               Code = "NOT_FOUND"
	CodeConflict               Code = "CONFLICT"
	CodeInsufficientStock      Code = "INSUFFICIENT_STOCK"
	CodeCouponIneligible       Code = "COUPON_INELIGIBLE"
	CodeConcurrencyConflict    Code = "CONCURRENCY_CONFLICT"
	CodeOverpaymentRejected    Code = "OVERPAYMENT_REJECTED"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeIdempotency            Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit              Code = "RATE_LIMITED"
	CodeInternal               Code = "INTERNAL_ERROR"
	CodeDependency             Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code surfaces over HTTP. Retryable tells clients a
// plain retry may succeed; DetailsAllowed lets the handler echo Details.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = true
	withDetails = true
)

func meta(status int, public string, retry, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retry, PublicMessage: public, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:             meta(http.StatusBadRequest, "validation failed", false, withDetails),
	CodeForbidden:              meta(http.StatusForbidden, "access denied", false, false),
	CodeNotFound:               meta(http.StatusNotFound, "resource not found", false, false),
	CodeConflict:               meta(http.StatusConflict, "conflict detected", false, false),
	CodeInsufficientStock:      meta(http.StatusConflict, "insufficient stock", false, withDetails),
	CodeCouponIneligible:       meta(http.StatusUnprocessableEntity, "coupon not applicable", false, withDetails),
	CodeConcurrencyConflict:    meta(http.StatusConflict, "resource was modified concurrently", retryable, withDetails),
	CodeOverpaymentRejected:    meta(http.StatusUnprocessableEntity, "payment exceeds order total", false, withDetails),
	CodeInvalidStateTransition: meta(http.StatusUnprocessableEntity, "state transition disallowed", false, withDetails),
	CodeIdempotency:            meta(http.StatusConflict, "idempotency key reused", false, withDetails),
	CodeRateLimit:              meta(http.StatusTooManyRequests, "too many requests", retryable, withDetails),
	CodeInternal:               meta(http.StatusInternalServerError, "internal server error", retryable, false),
	CodeDependency:             meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails returns a copy of e carrying details; e is left untouched so
// shared sentinel errors stay clean.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.details = details
	return &clone
}

// Error renders "CODE: message", followed by the cause when there is one.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// CouponIneligible builds the error returned when a coupon fails an
// eligibility check. reason is one of the coupon reason codes.
func CouponIneligible(reason, message string) *Error {
	return New(CodeCouponIneligible, message).WithDetails(map[string]any{"reason": reason})
}

// Reason extracts the coupon reason code from a COUPON_INELIGIBLE error.
func Reason(err error) string {
	typed := As(err)
	if typed == nil || typed.Code() != CodeCouponIneligible {
		return ""
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return ""
	}
	reason, _ := details["reason"].(string)
	return reason
}
