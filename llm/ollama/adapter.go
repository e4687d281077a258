package ollama

import (
	"encoding/base64"
	"fmt"
	"maps"

	"github.com/ollama/ollama/api"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/assist/llm"
)

// ToOllamaMessages converts llm.Messages to Ollama chat message format.
func ToOllamaMessages(msgs []llm.Message) ([]api.Message, error) {
	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		converted, err := ToOllamaMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, converted...)
	}
	return result, nil
}

// ToOllamaMessage converts a single llm.Message. Tool results are split out
// into one "tool" message each.
func ToOllamaMessage(msg llm.Message) ([]api.Message, error) {
	out := api.Message{Role: string(msg.Role)}
	var toolMsgs []api.Message

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += block.Text
		case llm.ContentBlockTypeImage:
			if block.Image == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(block.Image.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image: %w", err)
			}
			out.Images = append(out.Images, api.ImageData(data))
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse == nil {
				continue
			}
			args := make(api.ToolCallFunctionArguments)
			maps.Copy(args, block.ToolUse.Input)
			out.ToolCalls = append(out.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      block.ToolUse.Name,
					Arguments: args,
				},
			})
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				toolMsgs = append(toolMsgs, api.Message{
					Role:    "tool",
					Content: block.ToolResult.Content,
				})
			}
		}
	}

	if len(toolMsgs) > 0 {
		return toolMsgs, nil
	}
	return []api.Message{out}, nil
}

// ToOllamaTools converts llm.ToolSpecs to Ollama function format.
func ToOllamaTools(specs []llm.ToolSpec) []api.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) api.Tool {
		return ToOllamaTool(&spec)
	})
}

// ToOllamaTool converts a single llm.ToolSpec to Ollama Tool format.
func ToOllamaTool(spec *llm.ToolSpec) api.Tool {
	properties := make(map[string]api.ToolProperty, len(spec.Schema.Properties))
	for k, v := range spec.Schema.Properties {
		prop := api.ToolProperty{Type: []string{"string"}}
		if propMap, ok := v.(map[string]any); ok {
			if propType, ok := propMap["type"].(string); ok {
				prop.Type = []string{propType}
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			if enum, ok := propMap["enum"].([]any); ok {
				prop.Enum = enum
			}
		}
		properties[k] = prop
	}

	schemaType := spec.Schema.Type
	if schemaType == "" {
		schemaType = "object"
	}

	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: api.ToolFunctionParameters{
				Type:       schemaType,
				Properties: properties,
				Required:   spec.Schema.Required,
			},
		},
	}
}

// FromOllamaToolCall converts an Ollama tool call to an llm.ToolUseBlock.
// Ollama does not assign call IDs, so one is derived from the name and
// position.
func FromOllamaToolCall(toolCall api.ToolCall, index int) llm.ToolUseBlock {
	input := make(map[string]any, len(toolCall.Function.Arguments))
	maps.Copy(input, toolCall.Function.Arguments)
	return llm.ToolUseBlock{
		ID:    fmt.Sprintf("tool_%s_%d", toolCall.Function.Name, index),
		Name:  toolCall.Function.Name,
		Input: input,
	}
}

// chatFragment converts one chat response into a fragment. Usage counters
// are only reported on the final response. ok is false when the response
// carries nothing.
func chatFragment(resp api.ChatResponse) (llm.Fragment, bool) {
	calls := make([]llm.ToolUseBlock, 0, len(resp.Message.ToolCalls))
	for i, tc := range resp.Message.ToolCalls {
		calls = append(calls, FromOllamaToolCall(tc, i))
	}

	var usage *llm.Usage
	if resp.Done {
		usage = &llm.Usage{
			InputTokens:  int64(resp.PromptEvalCount),
			OutputTokens: int64(resp.EvalCount),
		}
	}

	if resp.Message.Content == "" && len(calls) == 0 && usage == nil {
		return nil, false
	}
	return llm.NewFragment(resp.Message.Content, usage, calls), true
}
