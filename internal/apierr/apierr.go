// Package apierr implements the closed error taxonomy the gateway presents
// to clients (spec §7): authentication_error, overloaded_error,
// invalid_request_error, permission_error, and api_error. Upstream failures
// are turned into these typed values (Classify for a non-200 upstream
// response) so handlers render one error shape; the upstream's error text,
// when present, is kept as the message. An error that is not an *APIError
// reaches the client as a 500 api_error.
package apierr

import "fmt"

// Type is one of the five taxonomy members.
type Type string

const (
	TypeAuthentication  Type = "authentication_error"
	TypeOverloaded      Type = "overloaded_error"
	TypeInvalidRequest  Type = "invalid_request_error"
	TypePermission      Type = "permission_error"
	TypeAPI             Type = "api_error"
)

// APIError is the typed error carried through the pipeline and translated
// to a Messages- or ChatCompletions-dialect error body at the HTTP layer.
type APIError struct {
	ErrType    Type
	Message    string
	StatusCode int
	// RetryAfterMs is non-zero for overloaded_error responses that should
	// carry a Retry-After hint (spec §7).
	RetryAfterMs int64
	// Cause is the wrapped upstream or internal error, if any.
	Cause error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrType, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrType, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

// StatusFor returns the conventional HTTP status for a taxonomy member when
// the caller hasn't already computed a specific one.
func StatusFor(t Type) int {
	switch t {
	case TypeAuthentication:
		return 401
	case TypeOverloaded:
		return 503
	case TypeInvalidRequest:
		return 400
	case TypePermission:
		return 403
	default:
		return 500
	}
}

// NewAuthError builds an authentication_error.
func NewAuthError(message string, cause error) *APIError {
	return &APIError{ErrType: TypeAuthentication, Message: message, StatusCode: StatusFor(TypeAuthentication), Cause: cause}
}

// NewPermissionError builds a permission_error.
func NewPermissionError(message string, cause error) *APIError {
	return &APIError{ErrType: TypePermission, Message: message, StatusCode: StatusFor(TypePermission), Cause: cause}
}

// NewInvalidRequestError builds an invalid_request_error.
func NewInvalidRequestError(message string) *APIError {
	return &APIError{ErrType: TypeInvalidRequest, Message: message, StatusCode: StatusFor(TypeInvalidRequest)}
}

// NewOverloadedError builds an overloaded_error with a Retry-After hint.
// This is the taxonomy member used both for a single rate-limited upstream
// response and for the "entire pool exhausted" case (spec §4.3, §7).
func NewOverloadedError(message string, retryAfterMs int64, cause error) *APIError {
	return &APIError{
		ErrType:      TypeOverloaded,
		Message:      message,
		StatusCode:   StatusFor(TypeOverloaded),
		RetryAfterMs: retryAfterMs,
		Cause:        cause,
	}
}

// NewAPIError builds a generic api_error, optionally overriding the status
// code; a statusCode of 0 becomes 503.
func NewAPIError(message string, statusCode int, cause error) *APIError {
	if statusCode == 0 {
		statusCode = 503
	}
	return &APIError{ErrType: TypeAPI, Message: message, StatusCode: statusCode, Cause: cause}
}

// NewNoAccountsError is the overloaded_error raised when the pool has no
// usable account and the caller has exceeded MaxWaitBeforeErrorMs (spec §4.3).
func NewNoAccountsError(retryAfterMs int64) *APIError {
	return NewOverloadedError("all accounts are currently rate-limited or invalid", retryAfterMs, nil)
}
