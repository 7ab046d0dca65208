package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation     ErrorCategory = "validation"      // Invalid input or extraction
	ErrCatNotFound       ErrorCategory = "not_found"       // External id or ticket missing
	ErrCatNetwork        ErrorCategory = "network"         // API/transport failure
	ErrCatVerification   ErrorCategory = "verification"    // Write not confirmed by read-back
	ErrCatCircuitBreaker ErrorCategory = "circuit_breaker" // Row failed too often
	ErrCatTimeout        ErrorCategory = "timeout"         // Operation timed out
	ErrCatRateLimit      ErrorCategory = "rate_limit"      // API quota exhausted
	ErrCatState          ErrorCategory = "state"           // Durable state corruption/conflict
	ErrCatAuth           ErrorCategory = "auth"            // Credential failure
	ErrCatInternal       ErrorCategory = "internal"        // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrTicketNotFound is returned when every search strategy came back empty.
func ErrTicketNotFound(externalID string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeTicketNotFound,
		Message:   fmt.Sprintf("no ticket matches external id %q", externalID),
		Retryable: false,
		Details:   map[string]interface{}{"external_id": externalID},
	}
}

// ErrNoExternalID is returned when a row carries no id in any id column.
func ErrNoExternalID(row RowID) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNoExternalID,
		Message:   fmt.Sprintf("row %d has no external id", row),
		Retryable: false,
		Details:   map[string]interface{}{"row": int(row)},
	}
}

// ErrNetwork creates a retryable network error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      "NETWORK_FAILURE",
		Message:   message,
		Retryable: true,
	}
}

// ErrVerification creates a retryable write verification error.
func ErrVerification(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatVerification,
		Code:      CodeVerificationFailed,
		Message:   message,
		Retryable: true,
	}
}

// ErrCircuitBreaker is returned when a row exceeded its failure budget.
func ErrCircuitBreaker(row RowID, attempts int) *DomainError {
	return &DomainError{
		Category:  ErrCatCircuitBreaker,
		Code:      CodeCircuitBreakerTripped,
		Message:   fmt.Sprintf("row %d failed %d times within the recovery window", row, attempts),
		Retryable: false,
		Details:   map[string]interface{}{"row": int(row), "attempts": attempts},
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrInternal creates an internal error.
func ErrInternal(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeTicketNotFound        = "TICKET_NOT_FOUND"
	CodeNoExternalID          = "NO_EXTERNAL_ID"
	CodeVerificationFailed    = "VERIFICATION_FAILED"
	CodeCircuitBreakerTripped = "CIRCUIT_BREAKER_TRIPPED"
	CodeInvalidState          = "INVALID_STATE"
	CodeStateCorrupted        = "STATE_CORRUPTED"
	CodeLockAcquireFailed     = "LOCK_ACQUIRE_FAILED"

	// Validation error codes
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidRecordType = "INVALID_RECORD_TYPE"
	CodeInvalidRowInput   = "INVALID_ROW_INPUT"
	CodeUnknownCommand    = "UNKNOWN_COMMAND"
	CodeNoSheet           = "NO_SHEET"

	// Execution error codes
	CodeExtractionFailed = "EXTRACTION_FAILED"
	CodeScannerFailed    = "SCANNER_FAILED"
)
