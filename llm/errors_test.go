package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestExtractRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "300")
	err := fmt.Errorf("generate: %w", NewStatusError("gemini", 429, "rate limit", h))
	extracted := ExtractRetryAfter(err)
	if extracted == nil {
		t.Fatal("Expected non-nil retry after")
	}
	if *extracted != 5*time.Minute {
		t.Errorf("Expected retry after %v, got %v", 5*time.Minute, *extracted)
	}

	if ExtractRetryAfter(errors.New("plain")) != nil {
		t.Error("Expected nil retry after for a plain error")
	}
	if ExtractRetryAfter(NewStatusError("gemini", 503, "", nil)) != nil {
		t.Error("Expected nil retry after without the header")
	}
}

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		status  int
		errType ErrorType
	}{
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusUnauthorized, ErrorTypeAuth},
		{http.StatusForbidden, ErrorTypeAuth},
		{http.StatusServiceUnavailable, ErrorTypeProvider},
		{http.StatusBadRequest, ErrorTypeInvalidRequest},
	}
	for _, tt := range tests {
		err := NewStatusError("gemini", tt.status, "", nil)
		if err.Type != tt.errType {
			t.Errorf("%d: expected type %s, got %s", tt.status, tt.errType, err.Type)
		}
		if err.HTTPStatusCode() != tt.status {
			t.Errorf("%d: expected HTTPStatusCode %d, got %d", tt.status, tt.status, err.HTTPStatusCode())
		}
	}
}

func TestError_TextCarriesStatus(t *testing.T) {
	err := NewStatusError("gemini", 503, `{"error":{"status":"UNAVAILABLE"}}`, nil)
	msg := err.Error()
	if !strings.Contains(msg, "503") || !strings.HasPrefix(msg, "gemini: ") {
		t.Errorf("Expected provider and status in message, got %q", msg)
	}
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	err := NewStatusError("openai", 429, "slow down", h)
	if err.RetryAfter == nil || *err.RetryAfter != 7*time.Second {
		t.Errorf("Expected 7s retry after, got %v", err.RetryAfter)
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewNetworkError("ollama", inner)
	if !errors.Is(err, inner) {
		t.Error("Expected errors.Is to find the provider error")
	}
	if !strings.Contains(err.Error(), "network") {
		t.Errorf("Expected 'network' in %q", err.Error())
	}
}
