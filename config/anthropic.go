package config

import (
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
	llmanthropic "github.com/aschepis/backscratcher/assist/llm/anthropic"
)

func newAnthropicTransport(key *llm.ClientKey, logger zerolog.Logger) *llmanthropic.Transport {
	return llmanthropic.NewTransport(key.APIKey, logger)
}
