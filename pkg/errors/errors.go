package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	// ErrorTypeCorruptLedger means the persisted ledger could not be decoded.
	// Fatal: starting empty would re-deliver everything ever downloaded.
	ErrorTypeCorruptLedger ErrorType = "corrupt_ledger"

	// ErrorTypeDegradedFingerprint means a fallback identity was assigned to
	// an item whose thumbnail reference was missing or malformed. Non-fatal,
	// but such items cannot be deduplicated across cycles.
	ErrorTypeDegradedFingerprint ErrorType = "degraded_fingerprint"

	// ErrorTypeTransfer is a per-item byte fetch failure.
	ErrorTypeTransfer ErrorType = "transfer"

	// ErrorTypeCommit is a per-backend storage commit failure.
	ErrorTypeCommit ErrorType = "commit"

	// ErrorTypeConnectionExhausted means consecutive full-cycle failures
	// exceeded the configured ceiling. Fatal.
	ErrorTypeConnectionExhausted ErrorType = "connection_exhausted"

	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a typed error with optional transport status code
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Newf creates a typed error with a formatted message
func Newf(errorType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTransfer, ErrorTypeCommit, ErrorTypeServerError:
		return true
	case ErrorTypeCorruptLedger, ErrorTypeConnectionExhausted, ErrorTypeNotFound, ErrorTypeDegradedFingerprint:
		return false
	default:
		return false
	}
}

// IsRetryableError checks if an error should be retried, unwrapping to the
// typed error if present. Untyped errors are not retryable.
func IsRetryableError(err error) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return IsRetryable(typed.Type)
	}
	return false
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}

// IsFatal reports whether the error must terminate the process rather than
// be contained at the item boundary.
func IsFatal(errorType ErrorType) bool {
	return errorType == ErrorTypeCorruptLedger || errorType == ErrorTypeConnectionExhausted
}
