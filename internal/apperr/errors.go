// Package apperr defines the error kinds surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error kind on the wire.
type Code string

const (
	CodeValidation            Code = "validation_error"
	CodeNotFound              Code = "resource_not_found"
	CodeInvalidStatus         Code = "invalid_payment_status"
	CodeInsufficientFunds     Code = "insufficient_funds"
	CodeInvalidIdempotencyKey Code = "invalid_idempotency_key"
	CodeIdempotencyKeyInUse   Code = "idempotency_key_in_use"
	CodeInvalidAPIKey         Code = "invalid_api_key"
	CodeUnauthorized          Code = "unauthorized"
	CodeForbidden             Code = "forbidden"
	CodeRateLimited           Code = "rate_limit_exceeded"
	CodeInternal              Code = "internal_error"
)

// Error is an application error carrying enough structure for the caller to act on.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates an Error.
func New(code Code, status int, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Status: status, Message: message, Details: details}
}

// Sentinels for errors.Is. Never return these directly; use the constructors.
var (
	ErrValidation            = &Error{Code: CodeValidation}
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrInvalidStatus         = &Error{Code: CodeInvalidStatus}
	ErrInsufficientFunds     = &Error{Code: CodeInsufficientFunds}
	ErrInvalidIdempotencyKey = &Error{Code: CodeInvalidIdempotencyKey}
	ErrInternal              = &Error{Code: CodeInternal}
)

func Validation(details map[string]interface{}) *Error {
	return New(CodeValidation, http.StatusBadRequest, "Request validation failed", details)
}

// Field is shorthand for a single-field validation failure.
func Field(name, msg string) *Error {
	return Validation(map[string]interface{}{name: msg})
}

func NotFound(resource string) *Error {
	return New(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
}

// InvalidStatus reports an illegal lifecycle transition.
func InvalidStatus(current string, allowed []string) *Error {
	return New(CodeInvalidStatus, http.StatusBadRequest,
		"Payment cannot be modified in its current status",
		map[string]interface{}{"currentStatus": current, "expectedStatuses": allowed})
}

func InsufficientFunds(required, available int64) *Error {
	return New(CodeInsufficientFunds, http.StatusBadRequest, "Insufficient wallet balance",
		map[string]interface{}{"required": required, "available": available})
}

func InvalidIdempotencyKey() *Error {
	return New(CodeInvalidIdempotencyKey, http.StatusBadRequest,
		"Idempotency key must be a valid UUID v4", nil)
}

func IdempotencyKeyInUse(key string) *Error {
	return New(CodeIdempotencyKeyInUse, http.StatusConflict,
		"Idempotency key is in use by a concurrent request",
		map[string]interface{}{"idempotencyKey": key})
}

func InvalidAPIKey() *Error {
	return New(CodeInvalidAPIKey, http.StatusUnauthorized, "Invalid or missing API key", nil)
}

func Unauthorized(msg string) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, msg, nil)
}

func Forbidden() *Error {
	return New(CodeForbidden, http.StatusForbidden, "Forbidden", nil)
}

func RateLimited(retryAfter int) *Error {
	return New(CodeRateLimited, http.StatusTooManyRequests, "Too many requests. Please retry later.",
		map[string]interface{}{"retryAfter": retryAfter})
}

// Internal hides err from the caller but keeps it for logging.
func Internal(err error) *Error {
	e := New(CodeInternal, http.StatusInternalServerError, "An unexpected error occurred", nil)
	e.Err = err
	return e
}

// From returns err as *Error, converting anything else to Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
