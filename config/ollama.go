package config

import (
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
	llmollama "github.com/aschepis/backscratcher/assist/llm/ollama"
)

// newOllamaTransport connects to key.Host, or to OLLAMA_HOST when no host is
// configured.
func newOllamaTransport(key *llm.ClientKey, logger zerolog.Logger) (*llmollama.Transport, error) {
	return llmollama.NewTransport(key.Host, logger)
}
