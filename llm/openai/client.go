// Package openai implements llm.Transport for OpenAI-compatible chat
// completion APIs.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/assist/llm"
)

// reasoningEffort is requested when the caller enables extended thinking.
const reasoningEffort = "high"

// Transport implements llm.Transport for OpenAI's API.
type Transport struct {
	client *openai.Client
	logger zerolog.Logger
}

// NewTransport creates a new Transport.
// If baseURL is empty, it will use the default OpenAI API endpoint. An empty
// apiKey is accepted; the API then rejects calls as unauthorized.
func NewTransport(apiKey, baseURL, organization string, logger zerolog.Logger) *Transport {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}

	return &Transport{
		client: openai.NewClientWithConfig(config),
		logger: logger.With().Str("component", "openai_transport").Logger(),
	}
}

// GenerateOnce implements llm.Transport.GenerateOnce.
func (t *Transport) GenerateOnce(ctx context.Context, req *llm.Request) (llm.Fragment, error) {
	chatReq, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	chatResp, err := t.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertError(ctx, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProviderError(llm.ProviderOpenAI, "no choices in response", nil)
	}

	choice := chatResp.Choices[0]
	calls := make([]llm.ToolUseBlock, 0, len(choice.Message.ToolCalls))
	for _, toolCall := range choice.Message.ToolCalls {
		calls = append(calls, FromOpenAIToolCall(toolCall))
	}

	usage := &llm.Usage{
		InputTokens:  int64(chatResp.Usage.PromptTokens),
		OutputTokens: int64(chatResp.Usage.CompletionTokens),
		TotalTokens:  int64(chatResp.Usage.TotalTokens),
	}

	t.logger.Debug().
		Str("finish_reason", string(choice.FinishReason)).
		Int64("total_tokens", usage.Total()).
		Msg("OpenAI response received")

	return llm.NewFragment(choice.Message.Content, usage, calls), nil
}

// GenerateStream implements llm.Transport.GenerateStream.
func (t *Transport) GenerateStream(ctx context.Context, req *llm.Request) (llm.FragmentStream, error) {
	chatReq, err := buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := t.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertError(ctx, err)
	}
	return newStream(ctx, stream, t.logger), nil
}

func buildRequest(req *llm.Request) (openai.ChatCompletionRequest, error) {
	if req == nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("request is required")
	}
	if req.Model == "" {
		return openai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}

	msgs, err := ToOpenAIMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.System != "" {
		msgs = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		}}, msgs...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = ToOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	if req.Thinking != nil {
		// reasoning models reject max_tokens and temperature
		chatReq.ReasoningEffort = reasoningEffort
		if req.MaxTokens > 0 {
			chatReq.MaxCompletionTokens = int(req.MaxTokens)
		}
		return chatReq, nil
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	return chatReq, nil
}

// convertError converts OpenAI API errors to llm.Error values carrying the
// HTTP status.
func convertError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return llm.NewNetworkError(llm.ProviderOpenAI, err)
	}

	llmErr := llm.NewStatusError(llm.ProviderOpenAI, status, "", nil)
	llmErr.ProviderErr = err
	return llmErr
}

// Ensure Transport implements llm.Transport
var _ llm.Transport = (*Transport)(nil)
