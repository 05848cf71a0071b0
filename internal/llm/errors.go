package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass categorizes a failed provider request. The retry
// controller keys its backoff and give-up decisions off this.
type ErrorClass string

const (
	// ClassRateLimited indicates rate limiting (HTTP 429).
	ClassRateLimited ErrorClass = "rate_limited"

	// ClassTimeout indicates the request deadline elapsed.
	ClassTimeout ErrorClass = "timeout"

	// ClassConnection indicates the provider could not be reached.
	ClassConnection ErrorClass = "connection_error"

	// ClassServer indicates server-side issues (HTTP 5xx).
	ClassServer ErrorClass = "server_error"

	// ClassFatal indicates errors that retrying cannot fix: auth
	// failures, malformed requests, unregistered function names,
	// schema mismatches.
	ClassFatal ErrorClass = "fatal"
)

// IsRetryable reports whether the class suggests retrying may succeed.
func (c ErrorClass) IsRetryable() bool {
	switch c {
	case ClassRateLimited, ClassTimeout, ClassConnection, ClassServer:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from a completion provider.
type ProviderError struct {
	Class    ErrorClass
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Class))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps cause with provider context and a class
// derived from the cause text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Class:    ClassFatal,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Class = Classify(cause)
	}
	return err
}

// WithStatus sets the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Class = classifyStatusCode(status)
	return e
}

// WithClass overrides the classification.
func (e *ProviderError) WithClass(class ErrorClass) *ProviderError {
	e.Class = class
	return e
}

// Classify maps an arbitrary error to an ErrorClass. A ProviderError
// anywhere in the chain wins; otherwise the error text is matched
// against known provider phrasings. Unrecognized errors are fatal so
// that nothing unknown gets retried blindly.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "etimedout") {
		return ClassTimeout
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ClassRateLimited
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "econnrefused") {
		return ClassConnection
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ClassServer
	}

	return ClassFatal
}

func classifyStatusCode(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ClassTimeout
	case status >= 500:
		return ClassServer
	default:
		return ClassFatal
	}
}
