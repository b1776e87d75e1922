package errors

import (
	"fmt"
	"time"
)

// CoreError is the structured error type for TriRank.
// It provides rich context for error handling, logging, and user presentation.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_301_GRAPH_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Graph, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CoreError.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *CoreError) WithSuggestion(suggestion string) *CoreError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CoreError from an existing error.
// The error's message becomes the CoreError message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotIndexed creates the error returned when search runs before index build.
func NotIndexed(component string) *CoreError {
	return New(ErrCodeNotIndexed,
		fmt.Sprintf("%s has no index: search called before index build", component), nil).
		WithSuggestion("run 'trirank index --corpus <path>' first")
}

// DimensionMismatch creates the error for embedding dimension conflicts.
func DimensionMismatch(expected, got int) *CoreError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprintf("%d", expected)).
		WithDetail("got", fmt.Sprintf("%d", got))
}

// GraphUnavailable creates the degraded-mode error for an unreachable graph store.
// The coordinator converts it into an empty contribution, never a query failure.
func GraphUnavailable(cause error) *CoreError {
	return Wrap(ErrCodeGraphUnavailable, cause).
		WithSuggestion("query continues on lexical and dense methods; check the graph store")
}

// MethodTimeout creates the error recorded when a retrieval method exceeds
// its per-method deadline.
func MethodTimeout(method string, limit time.Duration) *CoreError {
	return New(ErrCodeMethodTimeout,
		fmt.Sprintf("retrieval method %q exceeded %s", method, limit), nil).
		WithDetail("method", method)
}

// DuplicateChunk creates the programmer error for a malformed ranked list
// containing the same chunk twice.
func DuplicateChunk(method, chunkID string) *CoreError {
	return New(ErrCodeDuplicateChunk,
		fmt.Sprintf("ranked list from %q contains chunk %q more than once", method, chunkID), nil)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CoreError.
// Returns empty string if not a CoreError.
func GetCode(err error) string {
	if ce, ok := err.(*CoreError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CoreError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CoreError); ok {
		return ce.Category
	}
	return ""
}
