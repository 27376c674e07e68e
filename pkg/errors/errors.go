package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	ErrCodeEmptyBody    ErrorCode = "EMPTY_BODY"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Transport errors
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	ErrCodeFeed      ErrorCode = "FEED_ERROR"

	// Not found errors
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"

	// Conflict / race errors
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeProvisioning ErrorCode = "BUSINESS_PROVISIONING"
	ErrCodeStaleScope   ErrorCode = "STALE_SCOPE"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a structured application error with a code and message.
// Errors cross store boundaries as return values, never as panics, so the UI
// can render them inline (retry chip, inbox banner) without unwinding state.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors are rejected before any network call and are not
// retryable as-is; the caller must change its input.
func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingFieldError(field string) *AppError {
	return New(ErrCodeMissingField, fmt.Sprintf("missing required field: %s", field))
}

func EmptyBodyError() *AppError {
	return New(ErrCodeEmptyBody, "message body must be non-empty")
}

// Authentication errors are surfaced distinctly so the UI can prompt
// re-authentication instead of offering a retry affordance.
func UnauthorizedError(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func ExpiredTokenError() *AppError {
	return New(ErrCodeExpiredToken, "access token has expired")
}

// Transport errors mean the request failed to complete; retryable.
func TransportError(err error) *AppError {
	return Wrap(ErrCodeTransport, "request failed", err)
}

func FeedError(err error) *AppError {
	return Wrap(ErrCodeFeed, "change feed failure", err)
}

func NotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ConversationNotFoundError() *AppError {
	return New(ErrCodeConversationNotFound, "conversation not found")
}

// ProvisioningError marks the transient window where a conversation's
// business side has not been resolved server-side yet. Callers defer and
// retry later rather than treating it as a hard failure.
func ProvisioningError() *AppError {
	return New(ErrCodeProvisioning, "conversation business id not yet provisioned")
}

func ConflictError(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func InternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// Is reports whether err is an AppError carrying the given code
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsAuth reports whether err belongs to the authentication class, which the
// UI handles differently from retryable transport failures
func IsAuth(err error) bool {
	return Is(err, ErrCodeUnauthorized) || Is(err, ErrCodeExpiredToken) || Is(err, ErrCodeForbidden)
}

// IsRetryable reports whether the operation may be retried unchanged
func IsRetryable(err error) bool {
	return Is(err, ErrCodeTransport) || Is(err, ErrCodeFeed) || Is(err, ErrCodeProvisioning)
}

// GetAppError extracts an AppError from err, wrapping anything else as internal
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrCodeInternal, "unexpected error", err)
}
