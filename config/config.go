package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/assistant"
	"github.com/aschepis/backscratcher/assist/llm"
	"github.com/aschepis/backscratcher/assist/retry"
	"github.com/aschepis/backscratcher/assist/usage"
)

// GeminiConfig represents configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`  // Gemini API key
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL (default: public API)
}

// AnthropicConfig represents configuration for Anthropic LLM provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"` // Anthropic API key
}

// OllamaConfig represents configuration for Ollama LLM provider.
type OllamaConfig struct {
	Host string `yaml:"host,omitempty"` // Ollama host (default: "http://localhost:11434")
}

// OpenAIConfig represents configuration for OpenAI LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// UsageConfig controls usage tracking.
type UsageConfig struct {
	ResetSchedule string `yaml:"reset_schedule,omitempty"` // e.g. "@monthly", "0 0 1 * *", "720h"; empty disables resets
	Limit         int    `yaml:"limit,omitempty"`          // Records kept in memory
}

// AutomationConfig controls the automation runner.
type AutomationConfig struct {
	Timeout int `yaml:"timeout,omitempty"` // Seconds per task
}

// Classifier rule tables selectable with Config.Classifier.
const (
	// ClassifierText matches provider errors by their text only.
	ClassifierText = "text"
	// ClassifierStatus checks HTTP status codes before the text rules.
	ClassifierStatus = "status"
)

// Config is the assistant configuration.
type Config struct {
	// Provider is the preferred provider. Providers lists every enabled
	// provider in fallback order.
	Provider  string   `yaml:"provider,omitempty"`
	Providers []string `yaml:"providers,omitempty"`

	Gemini    GeminiConfig    `yaml:"gemini,omitempty"`
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	// Lanes holds the lane policies per provider.
	Lanes map[string]assistant.Lanes `yaml:"lanes,omitempty"`
	Retry retry.Policy               `yaml:"retry,omitempty"`
	// Classifier names the error rule table: "text" or "status".
	Classifier string `yaml:"classifier,omitempty"`

	// DemoMode and SecureMode stay nil unless configured; nil means on.
	DemoMode    *bool  `yaml:"demo_mode,omitempty"`
	SecureMode  *bool  `yaml:"secure_mode,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`
	RateLimitMs int    `yaml:"rate_limit_ms,omitempty"`

	Pricing    usage.Pricing    `yaml:"pricing,omitempty"` // Cost per 1M tokens
	Usage      UsageConfig      `yaml:"usage,omitempty"`
	Automation AutomationConfig `yaml:"automation,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Provider:  llm.ProviderGemini,
		Providers: []string{llm.ProviderGemini, llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderOllama},
		Ollama: OllamaConfig{
			Host: llm.DefaultOllamaHost,
		},
		Lanes:       DefaultLanes(),
		Retry:       retry.DefaultPolicy(),
		Classifier:  ClassifierText,
		LogLevel:    "info",
		RateLimitMs: 800,
		Pricing: usage.Pricing{
			assistant.DefaultDeepModel: {Input: 1.25, Output: 5.00},
			assistant.DefaultFastModel: {Input: 0.075, Output: 0.30},
		},
		Usage: UsageConfig{
			ResetSchedule: "@monthly",
			Limit:         usage.DefaultLimit,
		},
		Automation: AutomationConfig{
			Timeout: 120,
		},
	}
}

// DefaultLanes returns the lane policies of every provider.
func DefaultLanes() map[string]assistant.Lanes {
	return map[string]assistant.Lanes{
		llm.ProviderGemini: assistant.DefaultLanes(),
		llm.ProviderAnthropic: {
			assistant.LaneFast: {Model: "claude-haiku-4-5", Tools: true},
			assistant.LaneDeep: {Model: "claude-sonnet-4-5", ThinkingBudget: assistant.DefaultThinkingBudget, MaxTokens: 8192},
		},
		llm.ProviderOpenAI: {
			assistant.LaneFast: {Model: "gpt-4o-mini", Tools: true},
			assistant.LaneDeep: {Model: "o3-mini", ThinkingBudget: assistant.DefaultThinkingBudget},
		},
		llm.ProviderOllama: {
			assistant.LaneFast: {Model: "llama3.2:3b", Tools: true},
			assistant.LaneDeep: {Model: "gpt-oss:20b", ThinkingBudget: assistant.DefaultThinkingBudget},
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via ASSIST_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("ASSIST_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.assist/config.yaml"
	}
	return filepath.Join(homeDir, ".assist", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

type loadOptions struct {
	envFile string
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithEnvFile reads secrets from envFile instead of ".env". An empty path
// disables the env file.
func WithEnvFile(envFile string) LoadOption {
	return func(o *loadOptions) { o.envFile = envFile }
}

// Load builds the configuration: defaults, then the YAML file at path if it
// exists, then the env file, then environment variables.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{envFile: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Defaults()

	expandedPath := expandPath(path)
	if expandedPath != "" {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		default:
			var fileConfig Config
			if err := yaml.Unmarshal(data, &fileConfig); err != nil {
				return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
			}
			if err := mergo.Merge(cfg, fileConfig, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config file: %w", err)
			}
		}
	}

	if o.envFile != "" {
		// godotenv never overwrites variables that are already set.
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %q: %w", o.envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillLanes()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() error {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Provider, "ASSIST_PROVIDER")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Gemini.APIKey, "GEMINI_API_KEY", "API_KEY")
	setString(&c.Gemini.BaseURL, "GEMINI_BASE_URL")
	setString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.OpenAI.Organization, "OPENAI_ORG_ID")
	setString(&c.Ollama.Host, "OLLAMA_HOST")

	if v := os.Getenv("ASSIST_DEMO_MODE"); v != "" {
		demo, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ASSIST_DEMO_MODE %q: %w", v, err)
		}
		c.DemoMode = &demo
	}
	return nil
}

// fillLanes completes partially configured providers with the built-in lane
// policies.
func (c *Config) fillLanes() {
	if c.Lanes == nil {
		c.Lanes = make(map[string]assistant.Lanes)
	}
	for provider, defaults := range DefaultLanes() {
		lanes := c.Lanes[provider]
		if lanes == nil {
			lanes = make(assistant.Lanes)
		}
		for lane, policy := range defaults {
			configured, ok := lanes[lane]
			if !ok {
				lanes[lane] = policy
				continue
			}
			if configured.Model == "" {
				configured.Model = policy.Model
				lanes[lane] = configured
			}
		}
		c.Lanes[provider] = lanes
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if _, ok := DefaultLanes()[c.Provider]; !ok {
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	if c.Classifier != ClassifierText && c.Classifier != ClassifierStatus {
		return fmt.Errorf("unknown classifier: %s", c.Classifier)
	}
	for provider, lanes := range c.Lanes {
		for lane, policy := range lanes {
			if policy.Model == "" {
				return fmt.Errorf("lane %q of provider %q has no model", lane, provider)
			}
		}
	}
	if c.Usage.ResetSchedule != "" {
		if _, err := usage.ParseSchedule(c.Usage.ResetSchedule); err != nil {
			return fmt.Errorf("invalid usage.reset_schedule: %w", err)
		}
	}
	return nil
}

// NewClassifier returns a classifier for the configured rule table.
func (c *Config) NewClassifier() *apperr.Classifier {
	if c.Classifier == ClassifierStatus {
		return apperr.NewClassifier(apperr.StatusRules())
	}
	return apperr.NewClassifier(apperr.DefaultRules())
}

// Demo reports whether demo mode is on. It is on unless explicitly disabled.
func (c *Config) Demo() bool {
	return c.DemoMode == nil || *c.DemoMode
}

// Secure reports whether secure mode is on. It is on unless explicitly
// disabled.
func (c *Config) Secure() bool {
	return c.SecureMode == nil || *c.SecureMode
}

// LanesFor returns the lane policies of provider.
func (c *Config) LanesFor(provider string) assistant.Lanes {
	if lanes, ok := c.Lanes[provider]; ok {
		return lanes
	}
	return DefaultLanes()[provider]
}

// ProviderConfig returns the credentials used by the provider registry.
func (c *Config) ProviderConfig() *llm.ProviderConfig {
	return &llm.ProviderConfig{
		GeminiAPIKey:    c.Gemini.APIKey,
		GeminiBaseURL:   c.Gemini.BaseURL,
		AnthropicAPIKey: c.Anthropic.APIKey,
		OllamaHost:      c.Ollama.Host,
		OpenAIAPIKey:    c.OpenAI.APIKey,
		OpenAIBaseURL:   c.OpenAI.BaseURL,
		OpenAIOrg:       c.OpenAI.Organization,
	}
}

// Save saves the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
