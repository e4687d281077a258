// Package anthropic implements llm.Transport on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
)

const (
	// defaultMaxTokens is used when the request does not set MaxTokens;
	// the Messages API requires a value.
	defaultMaxTokens int64 = 4096
)

// Transport implements llm.Transport for Anthropic's API.
type Transport struct {
	client *anthropic.Client
	logger zerolog.Logger
}

// NewTransport creates a new Transport with the given API key. SDK-level
// retries are disabled; callers retry through their own policy.
func NewTransport(apiKey string, logger zerolog.Logger, opts ...option.RequestOption) *Transport {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := anthropic.NewClient(opts...)
	return &Transport{
		client: &client,
		logger: logger.With().Str("component", "anthropic_transport").Logger(),
	}
}

// GenerateOnce implements llm.Transport.GenerateOnce.
func (t *Transport) GenerateOnce(ctx context.Context, req *llm.Request) (llm.Fragment, error) {
	params, err := t.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := t.client.Messages.New(ctx, params)
	if err != nil {
		return nil, convertError(ctx, err)
	}

	var text strings.Builder
	var calls []llm.ToolUseBlock
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			calls = append(calls, llm.ToolUseBlock{
				ID:    block.ID,
				Name:  block.Name,
				Input: decodeInput(block.Input),
			})
		}
	}

	usage := &llm.Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	t.logger.Debug().
		Str("stop_reason", string(message.StopReason)).
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Msg("Anthropic response received")

	return llm.NewFragment(text.String(), usage, calls), nil
}

// GenerateStream implements llm.Transport.GenerateStream.
func (t *Transport) GenerateStream(ctx context.Context, req *llm.Request) (llm.FragmentStream, error) {
	params, err := t.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := t.client.Messages.NewStreaming(ctx, params)
	// The SDK defers connection errors to the first Next call; surface them
	// here so that stream establishment can be retried.
	s := newStream(ctx, stream, t.logger)
	if err := s.prime(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (t *Transport) buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("request is required")
	}

	system := req.System
	msgs := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = strings.TrimSpace(system + "\n" + m.TextContent())
			continue
		}
		msgs = append(msgs, m)
	}

	anthropicMsgs, err := ToMessageParams(msgs)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMsgs,
		System:    buildSystemBlocks(system),
		Tools:     ToToolUnionParams(req.Tools),
	}

	if req.Thinking != nil {
		// max_tokens must exceed the thinking budget
		if params.MaxTokens <= req.Thinking.BudgetTokens {
			params.MaxTokens = req.Thinking.BudgetTokens + defaultMaxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(req.Thinking.BudgetTokens)
	} else if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	return params, nil
}

// buildSystemBlocks creates the system text block with prompt caching
// enabled. Placing cache_control on the system block caches tools and system
// together.
func buildSystemBlocks(systemPrompt string) []anthropic.TextBlockParam {
	if systemPrompt == "" {
		return nil
	}
	return []anthropic.TextBlockParam{
		{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
	}
}

// convertError maps SDK errors to llm errors carrying the HTTP status.
func convertError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		llmErr := llm.NewStatusError(llm.ProviderAnthropic, apiErr.StatusCode, "", nil)
		llmErr.ProviderErr = err
		return llmErr
	}
	return llm.NewNetworkError(llm.ProviderAnthropic, err)
}

func decodeInput(raw json.RawMessage) map[string]any {
	input := make(map[string]any)
	if len(raw) == 0 {
		return input
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return make(map[string]any)
	}
	return input
}

// Ensure Transport implements llm.Transport
var _ llm.Transport = (*Transport)(nil)
