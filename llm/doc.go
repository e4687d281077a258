// Package llm provides a provider-neutral abstraction layer for hosted Large
// Language Model APIs.
//
// This package defines the types and interfaces that let the assistant talk
// to Gemini, Anthropic, OpenAI or Ollama without depending on any provider
// SDK outside of the provider subpackages.
//
// # Core Concepts
//
//  1. Messages: Message carries a role (user, assistant, system) and content
//     blocks (text, inline image, tool use, tool result).
//
//  2. Tools: ToolSpec describes a function the model may call. ToolUseBlock
//     and ToolResultBlock carry calls and their results through history.
//
//  3. Transport: GenerateOnce returns a complete response, GenerateStream a
//     pull-based FragmentStream. Transports do not retry or validate.
//
//  4. Fragments: every response or stream chunk is a JSON-shaped Fragment
//     ("text", "usage", "functionCalls"). Fragments are validated by the
//     caller before use.
//
//  5. Middleware: Middleware and StreamMiddleware add cross-cutting concerns
//     (metrics, logging) around a Transport via WrapWithMiddleware.
//
//  6. Errors: Error carries the provider, HTTP status and retryability of a
//     failed call. Its text always includes the status code.
//
//  7. Registry: ProviderRegistry picks the provider for a session from the
//     enabled providers in preference order.
//
// Usage Example
//
//	transport := gemini.NewTransport(apiKey, logger)
//	transport = llm.WrapWithMiddleware(transport, metrics.TransportMiddleware(llm.ProviderGemini))
//
//	stream, err := transport.GenerateStream(ctx, &llm.Request{
//	    Model:    "gemini-2.5-flash-lite",
//	    Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "Hallo!")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Fragment().Text())
//	}
//	return stream.Err()
package llm
