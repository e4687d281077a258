package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/assist/llm"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTransport("test-key", srv.URL+"/v1", "", zerolog.Nop())
}

func TestGenerateOnce(t *testing.T) {
	var got openai.ChatCompletionRequest
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "c1", "object": "chat.completion", "model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "Moment.",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_chart", "arguments": "{\"symbol\": \"AAPL\",}"}}]
			}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`)
	})

	frag, err := transport.GenerateOnce(context.Background(), &llm.Request{
		Model:    "gpt-test",
		System:   "Sei präzise.",
		Messages: []llm.Message{llm.NewUserTurn("Analysiere", &llm.ImageBlock{MimeType: "image/png", Data: "AAAA"})},
		Tools:    []llm.ToolSpec{{Name: "get_chart", Schema: llm.ToolSchema{Type: "object"}}},
	})
	if err != nil {
		t.Fatalf("GenerateOnce failed: %v", err)
	}

	if frag.Text() != "Moment." {
		t.Errorf("Expected text, got %q", frag.Text())
	}
	if frag["usage"].(map[string]any)["totalTokens"] != int64(12) {
		t.Errorf("Unexpected usage %v", frag["usage"])
	}
	call := frag["functionCalls"].([]any)[0].(map[string]any)
	if call["args"].(map[string]any)["symbol"] != "AAPL" {
		t.Errorf("Expected repaired args, got %v", call["args"])
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("Expected system then user message, got %+v", got.Messages)
	}
	parts := got.Messages[1].MultiContent
	if len(parts) != 2 || parts[0].ImageURL == nil || parts[0].ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Errorf("Expected image part then text, got %+v", parts)
	}
}

func TestGenerateOnce_StatusError(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	_, err := transport.GenerateOnce(context.Background(), &llm.Request{Model: "m"})
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("Expected *llm.Error, got %T: %v", err, err)
	}
	if llmErr.StatusCode != http.StatusUnauthorized || llmErr.Type != llm.ErrorTypeAuth {
		t.Errorf("Expected auth 401, got %+v", llmErr)
	}
}

func TestGenerateStream(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("Expected usage to be requested for streams")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hal\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2,\"total_tokens\":6}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := transport.GenerateStream(context.Background(), &llm.Request{Model: "m"})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	defer stream.Close()

	var frags []llm.Fragment
	for stream.Next() {
		frags = append(frags, stream.Fragment())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Unexpected stream error: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("Expected 3 fragments, got %d", len(frags))
	}
	if frags[0].Text()+frags[1].Text() != "Hallo" {
		t.Errorf("Expected 'Hallo', got %q", frags[0].Text()+frags[1].Text())
	}
	if frags[2]["usage"].(map[string]any)["totalTokens"] != int64(6) {
		t.Errorf("Unexpected usage %v", frags[2]["usage"])
	}
}

func TestToOpenAIMessages_ToolResults(t *testing.T) {
	msgs, err := ToOpenAIMessages([]llm.Message{
		llm.NewToolUseMessage([]llm.ToolUseBlock{{ID: "c1", Name: "get_chart", Input: map[string]any{"symbol": "AAPL"}}}),
		llm.NewToolResultMessage([]llm.ToolResultBlock{
			{ID: "c1", Name: "get_chart", Content: "ok"},
			{ID: "c2", Name: "get_chart", Content: "also ok"},
		}),
	})
	if err != nil {
		t.Fatalf("Conversion failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].ToolCalls[0].Function.Arguments != `{"symbol":"AAPL"}` {
		t.Errorf("Unexpected arguments %s", msgs[0].ToolCalls[0].Function.Arguments)
	}
	if msgs[1].Role != openai.ChatMessageRoleTool || msgs[2].ToolCallID != "c2" {
		t.Errorf("Expected one tool message per result, got %+v", msgs[1:])
	}
}

func TestParseArguments(t *testing.T) {
	if got := parseArguments(""); len(got) != 0 {
		t.Errorf("Expected empty map, got %v", got)
	}
	if got := parseArguments(`{"quantity": 2}`); got["quantity"] != float64(2) {
		t.Errorf("Expected quantity 2, got %v", got)
	}
	if got := parseArguments(`{symbol: 'AAPL'`); got["symbol"] != "AAPL" {
		t.Errorf("Expected repaired symbol, got %v", got)
	}
}
