package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized      ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict          ErrorType = "CONFLICT"
	ErrorTypeProviderTransient ErrorType = "PROVIDER_TRANSIENT"
	ErrorTypeProviderTerminal  ErrorType = "PROVIDER_TERMINAL"
	ErrorTypeInternal          ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeAmountTooLow     ErrorCode = "AMOUNT_TOO_LOW"
	ErrCodeAmountTooHigh    ErrorCode = "AMOUNT_TOO_HIGH"
	ErrCodeInvalidPhone     ErrorCode = "INVALID_PHONE"
	ErrCodeInvalidProvider  ErrorCode = "INVALID_PROVIDER"

	ErrCodePaymentNotFound          ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeDuplicateClientReference ErrorCode = "DUPLICATE_CLIENT_REFERENCE"
	ErrCodeRefundNotAllowed         ErrorCode = "REFUND_NOT_ALLOWED"
	ErrCodeRefundAmountExceeded     ErrorCode = "REFUND_AMOUNT_EXCEEDED"
	ErrCodeReceiptNotAvailable      ErrorCode = "RECEIPT_NOT_AVAILABLE"

	ErrCodeProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrCodeProviderRejected    ErrorCode = "PROVIDER_REJECTED"
	ErrCodeProviderDeclined    ErrorCode = "PROVIDER_DECLINED"
	ErrCodeWebhookInvalid      ErrorCode = "WEBHOOK_INVALID"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// Retryable reports whether the operation that produced this error may be
// retried. The decision is driven by the error taxonomy, never inferred
// from HTTP status codes observed on the wire.
func (e *AppError) Retryable() bool {
	switch e.Type {
	case ErrorTypeProviderTransient, ErrorTypeInternal:
		return true
	default:
		return false
	}
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewProviderTransientError marks a provider failure that is safe to retry
// with backoff: network timeouts, 5xx responses, rate limiting.
func NewProviderTransientError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderTransient,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

// NewProviderTerminalError marks a provider-declared final failure such as
// insufficient funds or a blocked wallet. The message is surfaced to the
// end user as-is, so it must stay human readable.
func NewProviderTerminalError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderTerminal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

var (
	ErrPaymentNotFound          = NewNotFoundError("payment not found", ErrCodePaymentNotFound)
	ErrDuplicateClientReference = NewConflictError("a payment already exists for this client reference", ErrCodeDuplicateClientReference)
	ErrRefundNotAllowed         = NewValidationError("payment is not in a refundable status", ErrCodeRefundNotAllowed)
	ErrRefundAmountExceeded     = NewValidationError("refund amount exceeds the remaining refundable amount", ErrCodeRefundAmountExceeded)

	ErrInvalidCredentials = NewUnauthorizedError("invalid client credentials", ErrCodeInvalidCredentials)
	ErrInvalidToken       = NewUnauthorizedError("invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
