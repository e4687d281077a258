package llm

import (
	"fmt"
	"slices"
	"sync"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// DefaultOllamaHost is used when no Ollama host is configured.
const DefaultOllamaHost = "http://localhost:11434"

// ClientKey identifies the provider selected for a session and the
// credentials needed to build its transport.
type ClientKey struct {
	Provider     string
	APIKey       string // For credential-based providers
	Host         string // For Ollama
	BaseURL      string // For Gemini and OpenAI
	Organization string // For OpenAI
}

// HasCredential reports whether the key carries what its provider needs to
// authenticate. Ollama runs locally and needs none.
func (k *ClientKey) HasCredential() bool {
	if k.Provider == ProviderOllama {
		return true
	}
	return k.APIKey != ""
}

// ProviderConfig holds the configuration needed for provider registry.
// This avoids import cycles by not importing the config package.
type ProviderConfig struct {
	GeminiAPIKey    string
	GeminiBaseURL   string
	AnthropicAPIKey string
	OllamaHost      string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIOrg       string
}

// ProviderRegistry picks the provider for a session from an ordered list of
// enabled providers.
type ProviderRegistry struct {
	enabledProviders []string // In preference order
	mu               sync.RWMutex
	config           *ProviderConfig
}

// NewProviderRegistry creates a new ProviderRegistry with the given config and enabled providers.
func NewProviderRegistry(providerConfig *ProviderConfig, enabledProviders []string) *ProviderRegistry {
	return &ProviderRegistry{
		enabledProviders: slices.Clone(enabledProviders),
		config:           providerConfig,
	}
}

// IsProviderEnabled checks if a provider is in the enabled providers list.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.enabledProviders, provider)
}

// IsProviderConfigured checks if a provider has the required configuration (API keys, hosts, etc.).
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isProviderConfiguredUnlocked(provider)
}

// Resolve returns a ClientKey for the first provider in preferences that is
// enabled and configured. With no preferences the enabled list is used in
// order.
//
// When no provider is configured, Resolve still returns the first enabled
// provider with an empty credential: a missing API key is reported by the
// assistant as an auth failure on first use rather than at startup.
func (r *ProviderRegistry) Resolve(preferences []string) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := preferences
	if len(candidates) == 0 {
		candidates = r.enabledProviders
	}

	var firstEnabled string
	for _, p := range candidates {
		if !slices.Contains(r.enabledProviders, p) {
			continue
		}
		if firstEnabled == "" {
			firstEnabled = p
		}
		if !r.isProviderConfiguredUnlocked(p) {
			continue
		}
		return r.resolveProviderConfig(p)
	}

	if firstEnabled == "" {
		return nil, fmt.Errorf("no available provider from preferences %v (enabled: %v)", candidates, r.enabledProviders)
	}
	return r.resolveProviderConfig(firstEnabled)
}

func (r *ProviderRegistry) isProviderConfiguredUnlocked(provider string) bool {
	switch provider {
	case ProviderGemini:
		return r.config.GeminiAPIKey != ""
	case ProviderAnthropic:
		return r.config.AnthropicAPIKey != ""
	case ProviderOllama:
		// Ollama doesn't require API key, just needs host (which has a default)
		return true
	case ProviderOpenAI:
		return r.config.OpenAIAPIKey != ""
	default:
		return false
	}
}

// resolveProviderConfig resolves provider-specific configuration and returns a ClientKey.
func (r *ProviderRegistry) resolveProviderConfig(provider string) (*ClientKey, error) {
	key := &ClientKey{Provider: provider}

	switch provider {
	case ProviderGemini:
		key.APIKey = r.config.GeminiAPIKey
		key.BaseURL = r.config.GeminiBaseURL
	case ProviderAnthropic:
		key.APIKey = r.config.AnthropicAPIKey
	case ProviderOllama:
		key.Host = r.config.OllamaHost
		if key.Host == "" {
			key.Host = DefaultOllamaHost
		}
	case ProviderOpenAI:
		key.APIKey = r.config.OpenAIAPIKey
		key.BaseURL = r.config.OpenAIBaseURL
		key.Organization = r.config.OpenAIOrg
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	return key, nil
}
