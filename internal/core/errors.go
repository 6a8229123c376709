package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatNotFound   ErrorCategory = "not_found"  // Unknown stage or session
	ErrCatSchema     ErrorCategory = "schema"     // Structured stage returned a non-conforming payload
	ErrCatProvider   ErrorCategory = "provider"   // Generation call itself failed
	ErrCatState      ErrorCategory = "state"      // Session store conflict/corruption
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the pipeline layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]any
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
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
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

// ErrUnknownStage creates the fatal-for-this-turn error for a stage that is
// not registered (excluded at load or simply misspelled).
func ErrUnknownStage(stage string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeUnknownStage,
		Message:   fmt.Sprintf("unknown stage: %s", stage),
		Retryable: false,
	}
}

// ErrSchemaMismatch creates the recoverable error for a structured stage
// whose provider returned a non-conforming payload.
func ErrSchemaMismatch(stage string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatSchema,
		Code:      CodeSchemaMismatch,
		Message:   fmt.Sprintf("stage %s returned a non-conforming payload", stage),
		Retryable: true,
		Cause:     cause,
	}
}

// ErrProvider creates a provider error for a failed generation call.
func ErrProvider(message string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      CodeProviderFailed,
		Message:   message,
		Retryable: true,
		Cause:     cause,
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
	CodeUnknownStage   = "UNKNOWN_STAGE"
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeProviderFailed = "PROVIDER_FAILED"
	CodeSessionExpired = "SESSION_EXPIRED"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeEmptyMessage   = "EMPTY_MESSAGE"
	CodeMessageTooLong = "MESSAGE_TOO_LONG"
)

// MaxMessageLength is the maximum allowed user message length.
const MaxMessageLength = 100000
