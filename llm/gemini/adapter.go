package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/assist/llm"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// toGenerateContentRequest converts a provider-neutral request.
func toGenerateContentRequest(req *llm.Request) (*generateContentRequest, error) {
	out := &generateContentRequest{}

	system := req.System
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			// Gemini has no system role inside contents
			system = strings.TrimSpace(system + "\n" + msg.TextContent())
			continue
		}
		c, err := toContent(msg)
		if err != nil {
			return nil, err
		}
		if len(c.Parts) > 0 {
			out.Contents = append(out.Contents, c)
		}
	}

	if system != "" {
		out.SystemInstruction = &systemInstruction{Parts: []part{{Text: system}}}
	}

	if len(req.Tools) > 0 {
		decls, err := toFunctionDeclarations(req.Tools)
		if err != nil {
			return nil, err
		}
		out.Tools = []tool{{FunctionDeclarations: decls}}
	}

	var cfg generationConfig
	hasConfig := false
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = &req.MaxTokens
		hasConfig = true
	}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
		hasConfig = true
	}
	if req.Thinking != nil {
		budget := req.Thinking.BudgetTokens
		cfg.ThinkingConfig = &thinkingConfig{ThinkingBudget: &budget}
		hasConfig = true
	}
	if hasConfig {
		out.GenerationConfig = &cfg
	}

	return out, nil
}

func toContent(msg llm.Message) (content, error) {
	c := content{Role: roleUser}
	if msg.Role == llm.RoleAssistant {
		c.Role = roleModel
	}

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if block.Text != "" {
				c.Parts = append(c.Parts, part{Text: block.Text})
			}
		case llm.ContentBlockTypeImage:
			if block.Image == nil {
				continue
			}
			c.Parts = append(c.Parts, part{InlineData: &inlineData{
				MimeType: block.Image.MimeType,
				Data:     block.Image.Data,
			}})
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse == nil {
				continue
			}
			args, err := json.Marshal(block.ToolUse.Input)
			if err != nil {
				return content{}, fmt.Errorf("failed to marshal args for %s: %w", block.ToolUse.Name, err)
			}
			c.Parts = append(c.Parts, part{FunctionCall: &functionCall{
				ID:   block.ToolUse.ID,
				Name: block.ToolUse.Name,
				Args: args,
			}})
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult == nil {
				continue
			}
			c.Parts = append(c.Parts, part{FunctionResponse: &functionResponse{
				ID:       block.ToolResult.ID,
				Name:     block.ToolResult.Name,
				Response: toolResultPayload(block.ToolResult),
			}})
		}
	}
	return c, nil
}

// toolResultPayload wraps the result so that it is always a JSON object, as
// Gemini requires.
func toolResultPayload(tr *llm.ToolResultBlock) json.RawMessage {
	var decoded any
	if err := json.Unmarshal([]byte(tr.Content), &decoded); err != nil {
		decoded = tr.Content
	}
	key := "content"
	if tr.IsError {
		key = "error"
	}
	payload, err := json.Marshal(map[string]any{key: decoded})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return payload
}

func toFunctionDeclarations(specs []llm.ToolSpec) ([]functionDeclaration, error) {
	decls := make([]functionDeclaration, 0, len(specs))
	for _, spec := range specs {
		params, err := json.Marshal(spec.Schema.AsMap())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for %s: %w", spec.Name, err)
		}
		decls = append(decls, functionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		})
	}
	return decls, nil
}

// toFragment converts one response (or stream event) into a raw fragment.
// Text parts of the first candidate are concatenated, thought summaries are
// dropped and usage counters are passed through under neutral names.
func toFragment(resp *generateContentResponse) (llm.Fragment, error) {
	frag := llm.Fragment{}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		parts := resp.Candidates[0].Content.Parts

		texts := lo.FilterMap(parts, func(p part, _ int) (string, bool) {
			return p.Text, p.Text != "" && !p.Thought
		})
		if len(texts) > 0 {
			frag["text"] = strings.Join(texts, "")
		}

		var calls []any
		for _, p := range parts {
			if p.FunctionCall == nil {
				continue
			}
			call := map[string]any{"name": p.FunctionCall.Name}
			if len(p.FunctionCall.Args) > 0 {
				var args any
				if err := decodeNumbers(p.FunctionCall.Args, &args); err != nil {
					return nil, fmt.Errorf("failed to decode args for %s: %w", p.FunctionCall.Name, err)
				}
				call["args"] = args
			}
			if p.FunctionCall.ID != "" {
				call["id"] = p.FunctionCall.ID
			}
			calls = append(calls, call)
		}
		if len(calls) > 0 {
			frag["functionCalls"] = calls
		}
	}

	if resp.UsageMetadata != nil {
		usage := map[string]any{}
		for from, to := range map[string]string{
			"promptTokenCount":     "promptTokens",
			"candidatesTokenCount": "outputTokens",
			"totalTokenCount":      "totalTokens",
		} {
			if v, ok := resp.UsageMetadata[from]; ok {
				usage[to] = v
			}
		}
		frag["usage"] = usage
	}

	return frag, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
