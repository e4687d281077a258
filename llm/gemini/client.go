// Package gemini implements llm.Transport over the Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
)

const (
	// DefaultBaseURL is the public Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// maxErrorBodySize caps how much of an error response is read.
	maxErrorBodySize = 64 * 1024
)

// Transport implements llm.Transport for Gemini.
type Transport struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(t *Transport) {
		if baseURL != "" {
			t.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// NewTransport creates a Gemini transport. An empty apiKey is allowed; the
// API then rejects calls, which callers classify as an auth failure.
func NewTransport(apiKey string, logger zerolog.Logger, opts ...Option) *Transport {
	t := &Transport{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger.With().Str("component", "gemini_transport").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GenerateOnce implements llm.Transport.GenerateOnce.
func (t *Transport) GenerateOnce(ctx context.Context, req *llm.Request) (llm.Fragment, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", t.baseURL, req.Model)
	resp, err := t.post(ctx, url, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer closeBody(resp.Body, t.logger)

	var out generateContentResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, llm.NewProviderError(llm.ProviderGemini, "failed to decode response", err)
	}
	return toFragment(&out)
}

// GenerateStream implements llm.Transport.GenerateStream.
func (t *Transport) GenerateStream(ctx context.Context, req *llm.Request) (llm.FragmentStream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", t.baseURL, req.Model)
	resp, err := t.post(ctx, url, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body, t.logger), nil
}

// post sends the request and returns the response for 2xx statuses. Every
// other outcome is returned as an error with the body closed.
func (t *Transport) post(ctx context.Context, url string, req *llm.Request, accept string) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	body, err := toGenerateContentRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("x-goog-api-key", t.apiKey)

	t.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Bool("thinking", req.Thinking != nil).
		Msg("Sending Gemini request")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, llm.NewNetworkError(llm.ProviderGemini, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer closeBody(resp.Body, t.logger)
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if readErr != nil {
			t.logger.Warn().Err(readErr).Int("status", resp.StatusCode).Msg("Failed to read error body")
		}
		return nil, llm.NewStatusError(llm.ProviderGemini, resp.StatusCode, string(errBody), resp.Header)
	}

	return resp, nil
}

func closeBody(body io.Closer, logger zerolog.Logger) {
	if err := body.Close(); err != nil {
		logger.Debug().Err(err).Msg("Failed to close response body")
	}
}

// Ensure Transport implements llm.Transport
var _ llm.Transport = (*Transport)(nil)
