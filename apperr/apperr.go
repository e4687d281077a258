// Package apperr defines the normalized error model shared by every layer of
// the assistant, and the classifier that turns raw failures into it.
package apperr

import (
	"encoding/json"
	"time"
)

// Code identifies the category of a failure.
type Code string

const (
	CodeQuotaExceeded      Code = "quota-exceeded"
	CodeRateLimited        Code = "rate-limited"
	CodeAuthFailed         Code = "auth-failed"
	CodeServiceUnavailable Code = "service-unavailable"
	CodeServiceUnreachable Code = "service-unreachable"
	CodeValidationFailed   Code = "validation-failed"
	CodeAutomationBlocked  Code = "automation-blocked"
	CodeAutomationTimeout  Code = "automation-timeout"
	CodeConfigLoadFailed   Code = "config-load-failed"
	CodeUnknown            Code = "unknown"
)

// Severity is how loudly a failure should be surfaced.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
	SeverityFatal Severity = "fatal"
)

// AppError is a classified failure. Code, Severity and Retryable are decided
// together by a Classifier and cannot be set from outside this package.
type AppError struct {
	code      Code
	severity  Severity
	retryable bool

	// Message is shown to the user (German).
	Message string
	// SuggestedAction tells the user what to do next (German).
	SuggestedAction string
	// Details always carries "originalMessage" plus any caller context.
	Details       map[string]any
	CorrelationID string
	Timestamp     time.Time
	// Cause is the text of the originating error, if there was one.
	Cause string

	origin error
}

// Code returns the failure category.
func (e *AppError) Code() Code { return e.code }

// Severity returns the severity.
func (e *AppError) Severity() Severity { return e.severity }

// Retryable reports whether repeating the operation may succeed.
func (e *AppError) Retryable() bool { return e.retryable }

// Error implements the error interface.
func (e *AppError) Error() string {
	return string(e.code) + ": " + e.Message
}

// Unwrap returns the raw error the AppError was classified from.
func (e *AppError) Unwrap() error {
	return e.origin
}

// WithMessage returns a copy of e with a different user-facing message.
// Classification fields are carried over unchanged.
func (e *AppError) WithMessage(message string) *AppError {
	cp := *e
	cp.Message = message
	return &cp
}

type wireError struct {
	Code            Code           `json:"code"`
	Message         string         `json:"message_de"`
	Details         map[string]any `json:"details,omitempty"`
	Severity        Severity       `json:"severity"`
	Retryable       bool           `json:"retryable"`
	SuggestedAction string         `json:"suggested_action_de"`
	CorrelationID   string         `json:"correlation_id"`
	Timestamp       string         `json:"timestamp_iso"`
	Cause           string         `json:"cause,omitempty"`
}

func (e *AppError) wire() wireError {
	return wireError{
		Code:            e.code,
		Message:         e.Message,
		Details:         e.Details,
		Severity:        e.severity,
		Retryable:       e.retryable,
		SuggestedAction: e.SuggestedAction,
		CorrelationID:   e.CorrelationID,
		Timestamp:       e.Timestamp.UTC().Format(time.RFC3339Nano),
		Cause:           e.Cause,
	}
}

// MarshalJSON renders the error in its wire form. Details are emitted as is;
// use Serialize for output that leaves the process.
func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}
