// Package llmerrors classifies provider failures so middleware can decide
// whether a call is worth retrying.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType is the category of a provider error.
type ErrorType int8

const (
	// ErrorTypeRateLimit is a 429 or quota error.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient is a 5xx, reset connection or timeout.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a 200 with no content and no tool calls.
	ErrorTypeEmptyResponse

	// ErrorTypeAuth is a 401/403 or missing key.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a malformed or oversized request.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything unclassified.
	ErrorTypeUnknown

	// ErrorTypeServiceUnavailable is emitted once retries are exhausted.
	ErrorTypeServiceUnavailable
)

// String returns the label used in logs and metrics.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error is a classified provider error.
type Error struct {
	Err        error
	Message    string
	Provider   string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	prefix := "LLM error"
	if e.Provider != "" {
		prefix = e.Provider + " error"
	}
	if e.Message != "" {
		return fmt.Sprintf("%s (%s): %s", prefix, e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", prefix, e.Type, e.Err)
	}
	return fmt.Sprintf("%s (%s): status %d", prefix, e.Type, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the call may succeed if repeated. Everything
// is retryable unless explicitly listed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// Is checks if err is a classified error of errorType.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the classified type of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err should be retried. Context errors never
// are; unclassified errors fall back to message sniffing.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	return Classify(0, err.Error()).IsRetryable()
}

// NewError creates a classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a classified error carrying an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError wraps the last error after retries ran out.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// Classify maps an HTTP status and/or error text onto an ErrorType. A zero
// status means only the text is known.
func Classify(statusCode int, text string) *Error {
	lower := strings.ToLower(text)
	e := &Error{StatusCode: statusCode, Message: text}

	switch {
	case statusCode == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		e.Type = ErrorTypeRateLimit
	case statusCode == 401 || statusCode == 403 ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "authentication"):
		e.Type = ErrorTypeAuth
	case statusCode >= 500 ||
		strings.Contains(lower, "timeout") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") || strings.Contains(lower, "eof") ||
		strings.Contains(lower, "overloaded") || strings.Contains(lower, "temporar"):
		e.Type = ErrorTypeTransient
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422 ||
		strings.Contains(lower, "too long") || strings.Contains(lower, "invalid request"):
		e.Type = ErrorTypeBadPrompt
	default:
		e.Type = ErrorTypeUnknown
	}
	return e
}

// FromProvider classifies a provider SDK failure. statusCode is zero when
// the call failed before a response arrived. Context errors are returned
// unchanged so callers can detect cancellation.
func FromProvider(provider string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request aborted: %w", provider, err)
	}
	e := Classify(statusCode, err.Error())
	e.Provider = provider
	e.Err = err
	e.Message = ""
	return e
}
