package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and repositories MUST use these instead of
// hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidFilter   ErrorCode = "validation_invalid_filter"
	ErrCodeValidationPriceRange      ErrorCode = "validation_price_range_invalid"
	ErrCodeValidationPublisherType   ErrorCode = "validation_invalid_publisher_type"
	ErrCodeValidationOverrideMode    ErrorCode = "validation_invalid_override_mode"
	ErrCodeValidationOverrideExpired ErrorCode = "validation_override_already_expired"
	ErrCodeValidationInvalidStatus   ErrorCode = "validation_invalid_queue_status"
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"
	ErrCodeValidationFailed          ErrorCode = "validation_failed"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Rate limiting (429)
	ErrCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundListing      ErrorCode = "not_found_listing"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundQueueItem    ErrorCode = "not_found_queue_item"
	ErrCodeNotFoundRecipient    ErrorCode = "not_found_recipient"
	ErrCodeNotFoundSetting      ErrorCode = "not_found_setting"
	ErrCodeNotFoundOverride     ErrorCode = "not_found_override"

	// Conflict (409)
	ErrCodeConflictClaimLost    ErrorCode = "conflict_claim_lost"
	ErrCodeConflictStateChanged ErrorCode = "conflict_state_changed"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB           ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected   ErrorCode = "internal_unexpected_error"
	ErrCodeInternalCache        ErrorCode = "internal_cache_error"
	ErrCodeInternalQueue        ErrorCode = "internal_queue_error"
	ErrCodeUpstreamUnavailable  ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited  ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamSendFailed   ErrorCode = "upstream_send_failed"
	ErrCodeUpstreamSendRejected ErrorCode = "upstream_send_rejected"
	ErrCodeUpstreamTimeout      ErrorCode = "upstream_timeout"

	// The message may or may not have been delivered. Never retried.
	ErrCodeUpstreamOutcomeUnknown ErrorCode = "upstream_outcome_unknown"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "rate_limit_"):
		return http.StatusTooManyRequests
	case s == string(ErrCodeUpstreamTimeout):
		return http.StatusGatewayTimeout
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain, repository and
// handler errors are expressed as AppError so the HTTP layer can map them to
// a status and a stable code.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// Returns "" when err carries no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsPermanentSendError reports whether a sender error should never be
// retried. Only an explicit rejection by the transport (invalid recipient,
// unknown user) is permanent; timeouts, 5xx and rate limits are transient.
func IsPermanentSendError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeUpstreamSendRejected, ErrCodeNotFoundRecipient, ErrCodeUpstreamOutcomeUnknown:
		return true
	default:
		return false
	}
}
