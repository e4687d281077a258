package config

import (
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
	"github.com/aschepis/backscratcher/assist/llm/gemini"
)

func newGeminiTransport(key *llm.ClientKey, logger zerolog.Logger) *gemini.Transport {
	return gemini.NewTransport(key.APIKey, logger, gemini.WithBaseURL(key.BaseURL))
}
