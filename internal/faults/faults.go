// internal/faults/faults.go
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable identifier for a business failure.
// Client UIs branch on codes, never on message text.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInvalidCustomerData Code = "INVALID_CUSTOMER_DATA"
	CodeTooManyItems        Code = "TOO_MANY_ITEMS"
	CodeProductUnavailable  Code = "PRODUCT_UNAVAILABLE"
	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeInsufficientCredit  Code = "INSUFFICIENT_CREDIT"
	CodeAccountBlocked      Code = "ACCOUNT_BLOCKED"
	CodeAccountInactive     Code = "ACCOUNT_INACTIVE"
	CodeGatewayUnavailable  Code = "GATEWAY_UNAVAILABLE"
	CodeProcessingFailed    Code = "PROCESSING_FAILED"
	CodeInvalidTransition   Code = "INVALID_STATE_TRANSITION"
	CodeDuplicateOperation  Code = "DUPLICATE_OPERATION"
	CodePixExpired          Code = "PIX_EXPIRED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeNotFound            Code = "NOT_FOUND"
)

// Error is a coded business error. The zero Code means "not a business error".
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on the code, so callers can compare against
// faults.New(code, "") sentinels without caring about message text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a coded error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Has reports whether err carries the given code.
func Has(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a business code onto an HTTP status for the API layer.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeInvalidCustomerData, CodeTooManyItems:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientCredit, CodeAccountBlocked, CodeAccountInactive,
		CodeProductUnavailable, CodeInsufficientStock, CodePixExpired:
		return http.StatusUnprocessableEntity
	case CodeInvalidTransition, CodeDuplicateOperation:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeGatewayUnavailable, CodeProcessingFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
