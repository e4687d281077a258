package config

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/assist/llm"
	"github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/metrics"
)

// ResolveProvider picks the provider to use: the preferred provider when it
// is configured, otherwise the first configured provider of the fallback
// list. With nothing configured the preferred provider is returned with an
// empty credential.
func ResolveProvider(cfg *Config) (*llm.ClientKey, error) {
	candidates := lo.Uniq(append([]string{cfg.Provider}, cfg.Providers...))
	registry := llm.NewProviderRegistry(cfg.ProviderConfig(), candidates)
	return registry.Resolve(candidates)
}

// NewTransport builds the transport for key, wrapped with the metrics and
// logging middleware.
func NewTransport(key *llm.ClientKey, log zerolog.Logger) (llm.Transport, error) {
	var (
		transport llm.Transport
		err       error
	)
	switch key.Provider {
	case llm.ProviderGemini:
		transport = newGeminiTransport(key, log)
	case llm.ProviderAnthropic:
		transport = newAnthropicTransport(key, log)
	case llm.ProviderOpenAI:
		transport = newOpenAITransport(key, log)
	case llm.ProviderOllama:
		transport, err = newOllamaTransport(key, log)
	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", key.Provider, err)
	}

	return llm.WrapWithMiddleware(transport,
		metrics.TransportMiddleware(key.Provider),
		logger.NewTransportLogger(log, key.Provider),
	), nil
}
