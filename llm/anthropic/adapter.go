package anthropic

import (
	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/assist/llm"
)

// ToMessageParam converts an llm.Message to an Anthropic MessageParam.
func ToMessageParam(msg llm.Message) (anthropic.MessageParam, error) {
	contentBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			contentBlocks = append(contentBlocks, anthropic.NewTextBlock(block.Text))
		case llm.ContentBlockTypeImage:
			if block.Image != nil {
				contentBlocks = append(contentBlocks, anthropic.NewImageBlockBase64(block.Image.MimeType, block.Image.Data))
			}
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse != nil {
				contentBlocks = append(contentBlocks, anthropic.NewToolUseBlock(
					block.ToolUse.ID,
					block.ToolUse.Input,
					block.ToolUse.Name,
				))
			}
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				contentBlocks = append(contentBlocks, anthropic.NewToolResultBlock(
					block.ToolResult.ID,
					block.ToolResult.Content,
					block.ToolResult.IsError,
				))
			}
		}
	}

	if msg.Role == llm.RoleAssistant {
		return anthropic.NewAssistantMessage(contentBlocks...), nil
	}
	return anthropic.NewUserMessage(contentBlocks...), nil
}

// ToMessageParams converts a slice of llm.Messages to Anthropic MessageParams.
func ToMessageParams(msgs []llm.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		anthMsg, err := ToMessageParam(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, anthMsg)
	}
	return result, nil
}

// ToToolUnionParam converts an llm.ToolSpec to an Anthropic ToolUnionParam.
func ToToolUnionParam(spec *llm.ToolSpec) anthropic.ToolUnionParam {
	toolParam := anthropic.ToolParam{
		Name:        spec.Name,
		Description: anthropic.String(spec.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties:  spec.Schema.Properties,
			Required:    spec.Schema.Required,
			ExtraFields: spec.Schema.ExtraFields,
		},
	}
	return anthropic.ToolUnionParam{OfTool: &toolParam}
}

// ToToolUnionParams converts a slice of llm.ToolSpecs to Anthropic ToolUnionParams.
func ToToolUnionParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return ToToolUnionParam(&spec)
	})
}
