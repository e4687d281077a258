// Package ollama implements llm.Transport for a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
)

// Transport implements llm.Transport for Ollama's API.
type Transport struct {
	client *api.Client
	logger zerolog.Logger
}

// NewTransport creates a new Transport.
// If host is empty, it will use the default from environment (OLLAMA_HOST or http://localhost:11434).
func NewTransport(host string, logger zerolog.Logger) (*Transport, error) {
	var client *api.Client
	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &Transport{
		client: client,
		logger: logger.With().Str("component", "ollama_transport").Logger(),
	}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// GenerateOnce implements llm.Transport.GenerateOnce.
func (t *Transport) GenerateOnce(ctx context.Context, req *llm.Request) (llm.Fragment, error) {
	chatReq, err := buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var chatResp api.ChatResponse
	err = t.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertError(ctx, err)
	}

	t.logger.Debug().
		Str("done_reason", chatResp.DoneReason).
		Int("eval_count", chatResp.EvalCount).
		Msg("Ollama response received")

	frag, ok := chatFragment(chatResp)
	if !ok {
		return llm.Fragment{}, nil
	}
	return frag, nil
}

// GenerateStream implements llm.Transport.GenerateStream.
func (t *Transport) GenerateStream(ctx context.Context, req *llm.Request) (llm.FragmentStream, error) {
	chatReq, err := buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	s := newStream(ctx, t.client, chatReq, t.logger)
	if err := s.prime(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func buildRequest(req *llm.Request, stream bool) (*api.ChatRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	msgs, err := ToOllamaMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.System != "" {
		msgs = append([]api.Message{{Role: "system", Content: req.System}}, msgs...)
	}

	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  make(map[string]any),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOllamaTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	if req.Thinking != nil {
		// Ollama has no token budget for thinking, only an on/off switch
		chatReq.Think = &api.ThinkValue{Value: true}
	}
	return chatReq, nil
}

// convertError maps Ollama client errors to llm errors carrying the HTTP
// status.
func convertError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.NewStatusError(llm.ProviderOllama, statusErr.StatusCode, statusErr.ErrorMessage, nil)
	}
	return llm.NewNetworkError(llm.ProviderOllama, err)
}

// Ensure Transport implements llm.Transport
var _ llm.Transport = (*Transport)(nil)
