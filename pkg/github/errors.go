package github

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents a classification of API failures.
type ErrorClass string

const (
	// ErrorClassTransient covers timeouts, 502/503 responses and
	// provider-reported "loading"/"timeout" conditions embedded in a
	// nominally successful response. Retried with exponential backoff.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassRateLimited covers HTTP 403 responses with rate limit
	// wording and embedded GraphQL errors mentioning the quota.
	// Retried after a fixed cooldown.
	ErrorClassRateLimited ErrorClass = "rate_limited"

	// ErrorClassFatal covers every other failure. Never retried.
	ErrorClassFatal ErrorClass = "fatal"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError represents a classified GitHub API failure.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("github %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("github %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify extracts the error class from an error chain.
// Unclassified errors (plain network failures and the like) count as
// transient: the wrapped call is a read-only query, so retrying is safe.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassTransient
}

// shouldRetry determines if an error class is retryable.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassTransient, ErrorClassRateLimited:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status and response body to an error class.
func classifyStatus(status int, body string) ErrorClass {
	switch {
	case status == 403 && containsRateLimit(body):
		return ErrorClassRateLimited
	case status == 502 || status == 503:
		return ErrorClassTransient
	default:
		return ErrorClassFatal
	}
}

// classifyGraphQLErrors maps embedded GraphQL error messages to an error
// class. GitHub reports some recoverable conditions inside a 200 response.
func classifyGraphQLErrors(message string) ErrorClass {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "rate limit"):
		return ErrorClassRateLimited
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "loading"):
		return ErrorClassTransient
	default:
		return ErrorClassFatal
	}
}

func containsRateLimit(s string) bool {
	return strings.Contains(strings.ToLower(s), "rate limit")
}
