package openai

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/assist/llm"
)

// ToOpenAIMessages converts llm.Messages to OpenAI chat message format. Tool
// results become one "tool" message each, as the API requires.
func ToOpenAIMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		var results []openai.ChatCompletionMessage
		for _, block := range msg.Content {
			if block.Type == llm.ContentBlockTypeToolResult && block.ToolResult != nil {
				results = append(results, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: block.ToolResult.ID,
					Name:       block.ToolResult.Name,
					Content:    block.ToolResult.Content,
				})
			}
		}
		if len(results) > 0 {
			result = append(result, results...)
			continue
		}

		openaiMsg, err := ToOpenAIMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, openaiMsg)
	}
	return result, nil
}

// ToOpenAIMessage converts a single llm.Message to OpenAI format.
func ToOpenAIMessage(msg llm.Message) (openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	default:
		role = openai.ChatMessageRoleUser
	}

	var content string
	var parts []openai.ChatMessagePart
	var toolCalls []openai.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if content != "" {
				content += "\n"
			}
			content += block.Text
		case llm.ContentBlockTypeImage:
			if block.Image != nil {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    fmt.Sprintf("data:%s;base64,%s", block.Image.MimeType, block.Image.Data),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse != nil {
				argsJSON, err := json.Marshal(block.ToolUse.Input)
				if err != nil {
					return openai.ChatCompletionMessage{}, fmt.Errorf("failed to marshal tool input: %w", err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   block.ToolUse.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.ToolUse.Name,
						Arguments: string(argsJSON),
					},
				})
			}
		}
	}

	openaiMsg := openai.ChatCompletionMessage{
		Role:      role,
		ToolCalls: toolCalls,
	}

	// Content and MultiContent are mutually exclusive
	if len(parts) > 0 {
		if content != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: content,
			})
		}
		openaiMsg.MultiContent = parts
	} else {
		openaiMsg.Content = content
	}

	return openaiMsg, nil
}

// ToOpenAITools converts llm.ToolSpecs to OpenAI function format.
func ToOpenAITools(specs []llm.ToolSpec) []openai.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) openai.Tool {
		return ToOpenAITool(&spec)
	})
}

// ToOpenAITool converts a single llm.ToolSpec to OpenAI Tool format.
func ToOpenAITool(spec *llm.ToolSpec) openai.Tool {
	parameters := spec.Schema.AsMap()
	if _, ok := parameters["properties"]; !ok {
		parameters["properties"] = map[string]any{}
	}

	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  parameters,
		},
	}
}

// FromOpenAIToolCall converts an OpenAI tool call response to an
// llm.ToolUseBlock. Models occasionally emit slightly malformed argument
// JSON; those are repaired before giving up on them.
func FromOpenAIToolCall(toolCall openai.ToolCall) llm.ToolUseBlock {
	return llm.ToolUseBlock{
		ID:    toolCall.ID,
		Name:  toolCall.Function.Name,
		Input: parseArguments(toolCall.Function.Arguments),
	}
}

func parseArguments(raw string) map[string]any {
	input := make(map[string]any)
	if raw == "" {
		return input
	}
	if err := json.Unmarshal([]byte(raw), &input); err == nil {
		return input
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return make(map[string]any)
	}
	input = make(map[string]any)
	if err := json.Unmarshal([]byte(repaired), &input); err != nil {
		return make(map[string]any)
	}
	return input
}
