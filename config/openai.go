package config

import (
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
	llmopenai "github.com/aschepis/backscratcher/assist/llm/openai"
)

func newOpenAITransport(key *llm.ClientKey, logger zerolog.Logger) *llmopenai.Transport {
	return llmopenai.NewTransport(key.APIKey, key.BaseURL, key.Organization, logger)
}
