package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeUnprocessable ErrorCode = "UNPROCESSABLE_ORDER"

	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
)

// APIError represents a structured API error with code, message, and optional details
type APIError struct {
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail adds a single detail to the error
func (e *APIError) WithDetail(key, value string) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func NewValidationError(message string) *APIError {
	return &APIError{
		Code:       ErrCodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFoundErrorWithID creates a not found error with resource ID
func NewNotFoundErrorWithID(resource, id string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]string{
			"resource": resource,
			"id":       id,
		},
		HTTPStatus: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewUnprocessableError reports an order the source returned but that could
// not be normalized.
func NewUnprocessableError(id, reason string) *APIError {
	return &APIError{
		Code:    ErrCodeUnprocessable,
		Message: "Order cannot be processed",
		Details: map[string]string{
			"id":     id,
			"reason": reason,
		},
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

func NewInternalError(message string) *APIError {
	if message == "" {
		message = "An internal error occurred"
	}
	return &APIError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func NewServiceUnavailableError(service string) *APIError {
	return &APIError{
		Code:    ErrCodeServiceUnavail,
		Message: "Service temporarily unavailable",
		Details: map[string]string{
			"service": service,
		},
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

func NewTimeoutError(operation string) *APIError {
	return &APIError{
		Code:    ErrCodeTimeout,
		Message: "Operation timed out",
		Details: map[string]string{
			"operation": operation,
		},
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// WrapError wraps a standard error into an APIError
// If the error is already an APIError, it returns it as-is
func WrapError(err error, message string) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return NewInternalError(message).WithDetail("original_error", err.Error())
}
