package llm

import (
	"encoding/json"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    MessageRole    `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock represents a single content block within a message.
// It can be text, an inline image, a tool use, or a tool result.
type ContentBlock struct {
	Type       ContentBlockType `json:"type"`
	Text       string           `json:"text,omitempty"`        // For text blocks
	Image      *ImageBlock      `json:"image,omitempty"`       // For image blocks
	ToolUse    *ToolUseBlock    `json:"tool_use,omitempty"`    // For tool use blocks
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"` // For tool result blocks
}

// ContentBlockType represents the type of content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeImage      ContentBlockType = "image"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ImageBlock is an inline image. Data is standard base64 without any
// data-URL prefix.
type ImageBlock struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ToolUseBlock represents a tool invocation request from the model.
type ToolUseBlock struct {
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResultBlock represents the result of a tool invocation.
type ToolResultBlock struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"` // Gemini matches results by function name
	Content string `json:"content"`        // JSON-serialized result
	IsError bool   `json:"is_error,omitempty"`
}

// ToolSpec represents a tool definition that can be provided to an LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]any
	Required    []string
	ExtraFields map[string]any // For any additional schema fields
}

// AsMap renders the schema as a JSON-schema object.
func (s ToolSchema) AsMap() map[string]any {
	out := make(map[string]any, len(s.ExtraFields)+3)
	for k, v := range s.ExtraFields {
		out[k] = v
	}
	typ := s.Type
	if typ == "" {
		typ = "object"
	}
	out["type"] = typ
	if s.Properties != nil {
		out["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// ThinkingConfig enables extended reasoning with a token budget.
type ThinkingConfig struct {
	BudgetTokens int64
}

// Request represents a complete LLM API request.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []ToolSpec
	MaxTokens   int64
	Temperature *float64        // Optional temperature override
	Thinking    *ThinkingConfig // Optional extended thinking
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64 // Zero means InputTokens + OutputTokens
}

// Total returns TotalTokens, or the sum of input and output when the
// provider did not report a total.
func (u Usage) Total() int64 {
	if u.TotalTokens != 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Fragment is one raw piece of provider output, before validation. It is
// JSON-shaped: optional "text" (string), optional "usage" (object with
// "promptTokens", "outputTokens", "totalTokens") and optional
// "functionCalls" (array of {"name", "args", "id"}). Transports that receive
// JSON from the wire may pass provider values through unchecked; the
// validator is responsible for rejecting malformed fragments.
type Fragment map[string]any

// NewFragment builds a fragment from typed provider output. Empty text, nil
// usage and no calls are omitted.
func NewFragment(text string, usage *Usage, calls []ToolUseBlock) Fragment {
	f := Fragment{}
	if text != "" {
		f["text"] = text
	}
	if usage != nil {
		f["usage"] = map[string]any{
			"promptTokens": usage.InputTokens,
			"outputTokens": usage.OutputTokens,
			"totalTokens":  usage.Total(),
		}
	}
	if len(calls) > 0 {
		out := make([]any, len(calls))
		for i, c := range calls {
			call := map[string]any{"name": c.Name, "args": c.Input}
			if c.ID != "" {
				call["id"] = c.ID
			}
			out[i] = call
		}
		f["functionCalls"] = out
	}
	return f
}

// Text returns the fragment's text if it is a string.
func (f Fragment) Text() string {
	s, _ := f["text"].(string)
	return s
}

// NewTextMessage creates a new message with text content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{
				Type: ContentBlockTypeText,
				Text: text,
			},
		},
	}
}

// NewUserTurn creates a user message from text and an optional image. The
// image comes first, as chart-analysis prompts refer to it.
func NewUserTurn(text string, image *ImageBlock) Message {
	msg := Message{Role: RoleUser}
	if image != nil {
		msg.Content = append(msg.Content, ContentBlock{Type: ContentBlockTypeImage, Image: image})
	}
	if text != "" {
		msg.Content = append(msg.Content, ContentBlock{Type: ContentBlockTypeText, Text: text})
	}
	return msg
}

// NewToolUseMessage creates a new assistant message with tool use blocks.
func NewToolUseMessage(toolUses []ToolUseBlock) Message {
	content := make([]ContentBlock, len(toolUses))
	for i, tu := range toolUses {
		content[i] = ContentBlock{
			Type:    ContentBlockTypeToolUse,
			ToolUse: &tu,
		}
	}
	return Message{
		Role:    RoleAssistant,
		Content: content,
	}
}

// NewToolResultMessage creates a new user message with tool result blocks.
func NewToolResultMessage(toolResults []ToolResultBlock) Message {
	content := make([]ContentBlock, len(toolResults))
	for i, tr := range toolResults {
		content[i] = ContentBlock{
			Type:       ContentBlockTypeToolResult,
			ToolResult: &tr,
		}
	}
	return Message{
		Role:    RoleUser,
		Content: content,
	}
}

// TextContent concatenates the text blocks of a message.
func (m Message) TextContent() string {
	var out string
	for _, b := range m.Content {
		if b.Type == ContentBlockTypeText {
			out += b.Text
		}
	}
	return out
}

// ToJSON marshals a message to JSON for debugging/logging purposes.
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
