package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error represents a provider-neutral LLM error. Whether it is retried is
// decided by the apperr rule table, not by the Type.
type Error struct {
	Type        ErrorType
	Provider    string
	Message     string
	RetryAfter  *time.Duration // from the Retry-After header, if any
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeProvider       ErrorType = "provider"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error implements the error interface. Status codes are part of the text so
// that text-based classification sees them.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.ProviderErr != nil {
		b.WriteString(": ")
		b.WriteString(e.ProviderErr.Error())
	}
	return b.String()
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// HTTPStatusCode returns the HTTP status the error was derived from, or 0.
func (e *Error) HTTPStatusCode() int {
	return e.StatusCode
}

// ExtractRetryAfter returns the Retry-After hint of the first *Error in
// err's chain, or nil.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewProviderError creates a new provider error.
func NewProviderError(provider, message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Provider:    provider,
		Message:     message,
		ProviderErr: providerErr,
	}
}

// NewNetworkError wraps a failure to reach the provider.
func NewNetworkError(provider string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Provider:    provider,
		Message:     "network error",
		ProviderErr: providerErr,
	}
}

// NewStatusError builds an error from a non-2xx HTTP response. body is the
// (possibly truncated) response body; header may be nil.
func NewStatusError(provider string, status int, body string, header http.Header) *Error {
	e := &Error{
		Provider:   provider,
		StatusCode: status,
		Message:    strings.TrimSpace(body),
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		e.Type = ErrorTypeRateLimit
		e.RetryAfter = parseRetryAfter(header)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Type = ErrorTypeAuth
	case status >= 500:
		e.Type = ErrorTypeProvider
	case status >= 400:
		e.Type = ErrorTypeInvalidRequest
	default:
		e.Type = ErrorTypeUnknown
	}
	return e
}

func parseRetryAfter(header http.Header) *time.Duration {
	if header == nil {
		return nil
	}
	v := header.Get("Retry-After")
	if v == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d > 0 {
			return &d
		}
	}
	return nil
}
