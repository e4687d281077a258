package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/assistant"
	"github.com/aschepis/backscratcher/assist/llm"
)

var envKeys = []string{
	"ASSIST_PROVIDER", "ASSIST_DEMO_MODE", "LOG_LEVEL", "API_KEY",
	"GEMINI_API_KEY", "GEMINI_BASE_URL", "ANTHROPIC_API_KEY",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_ORG_ID", "OLLAMA_HOST",
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("Failed to unset %s: %v", k, err)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider != llm.ProviderGemini {
		t.Errorf("Expected default provider gemini, got %s", cfg.Provider)
	}
	if !cfg.Demo() {
		t.Error("Expected demo mode to be on by default")
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("Unexpected retry policy %+v", cfg.Retry)
	}
	lanes := cfg.LanesFor(llm.ProviderGemini)
	if lanes[assistant.LaneFast].Model != assistant.DefaultFastModel || lanes[assistant.LaneDeep].ThinkingBudget != 1024 {
		t.Errorf("Unexpected gemini lanes %+v", lanes)
	}
	if p := cfg.Pricing[assistant.DefaultDeepModel]; p.Input != 1.25 || p.Output != 5 {
		t.Errorf("Unexpected deep pricing %+v", p)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
provider: anthropic
demo_mode: false
anthropic:
  api_key: sk-ant-test
retry:
  max_attempts: 5
  base_delay: 250ms
lanes:
  anthropic:
    fast:
      model: claude-custom
pricing:
  claude-custom:
    input: 1
    output: 2
`)

	cfg, err := Load(path, WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != llm.ProviderAnthropic || cfg.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("Unexpected provider settings %s %q", cfg.Provider, cfg.Anthropic.APIKey)
	}
	if cfg.Demo() {
		t.Error("Expected demo mode to be disabled by the file")
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("Unexpected retry policy %+v", cfg.Retry)
	}

	lanes := cfg.LanesFor(llm.ProviderAnthropic)
	if lanes[assistant.LaneFast].Model != "claude-custom" {
		t.Errorf("Expected configured fast model, got %s", lanes[assistant.LaneFast].Model)
	}
	if lanes[assistant.LaneDeep].Model == "" {
		t.Error("Expected the deep lane to be filled from defaults")
	}
	if _, ok := cfg.Pricing[assistant.DefaultFastModel]; !ok {
		t.Error("Expected default pricing to survive the merge")
	}
	if cfg.Pricing["claude-custom"].Output != 2 {
		t.Errorf("Expected configured pricing, got %+v", cfg.Pricing["claude-custom"])
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "provider: gemini\n")
	envFile := writeFile(t, dir, ".env", "GEMINI_API_KEY=from-dotenv\nOLLAMA_HOST=dotenv-host:11434\n")

	t.Setenv("ASSIST_PROVIDER", "ollama")
	t.Setenv("ASSIST_DEMO_MODE", "false")
	t.Setenv("OLLAMA_HOST", "env-host:11434")

	cfg, err := Load(path, WithEnvFile(envFile))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != llm.ProviderOllama {
		t.Errorf("Expected provider from env, got %s", cfg.Provider)
	}
	if cfg.Demo() {
		t.Error("Expected demo mode off from env")
	}
	if cfg.Gemini.APIKey != "from-dotenv" {
		t.Errorf("Expected key from env file, got %q", cfg.Gemini.APIKey)
	}
	if cfg.Ollama.Host != "env-host:11434" {
		t.Errorf("Expected existing env to win over env file, got %q", cfg.Ollama.Host)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	bad := writeFile(t, dir, "bad.yaml", "provider: [")
	if _, err := Load(bad, WithEnvFile("")); err == nil {
		t.Error("Expected parse error")
	}

	unknown := writeFile(t, dir, "unknown.yaml", "provider: skynet\n")
	if _, err := Load(unknown, WithEnvFile("")); err == nil {
		t.Error("Expected error for unknown provider")
	}

	schedule := writeFile(t, dir, "schedule.yaml", "usage:\n  reset_schedule: whenever\n")
	if _, err := Load(schedule, WithEnvFile("")); err == nil {
		t.Error("Expected error for bad reset schedule")
	}

	classifier := writeFile(t, dir, "classifier.yaml", "classifier: regex\n")
	if _, err := Load(classifier, WithEnvFile("")); err == nil {
		t.Error("Expected error for unknown classifier")
	}

	t.Setenv("ASSIST_DEMO_MODE", "maybe")
	if _, err := Load("", WithEnvFile("")); err == nil {
		t.Error("Expected error for bad ASSIST_DEMO_MODE")
	}
}

func TestNewClassifier(t *testing.T) {
	clearEnv(t)
	// The text rules do not know a bare 500; the status rules do.
	err := llm.NewStatusError(llm.ProviderGemini, 500, "boom", nil)

	cfg, loadErr := Load(filepath.Join(t.TempDir(), "missing.yaml"), WithEnvFile(""))
	if loadErr != nil {
		t.Fatalf("Load failed: %v", loadErr)
	}
	if got := cfg.NewClassifier().Classify(err, apperr.CodeUnknown, nil, "cid"); got.Code() != apperr.CodeUnknown {
		t.Errorf("Expected unknown from the text table, got %s", got.Code())
	}

	path := writeFile(t, t.TempDir(), "config.yaml", "classifier: status\n")
	cfg, loadErr = Load(path, WithEnvFile(""))
	if loadErr != nil {
		t.Fatalf("Load failed: %v", loadErr)
	}
	got := cfg.NewClassifier().Classify(err, apperr.CodeUnknown, nil, "cid")
	if got.Code() != apperr.CodeServiceUnavailable || !got.Retryable() {
		t.Errorf("Expected retryable service-unavailable from the status table, got %s (retryable=%v)", got.Code(), got.Retryable())
	}
}

func TestSaveAndLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Provider = llm.ProviderOpenAI
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Retry.BaseDelay = 2 * time.Second

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}

	loaded, err := Load(path, WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Provider != llm.ProviderOpenAI || loaded.OpenAI.APIKey != "sk-test" || loaded.Retry.BaseDelay != 2*time.Second {
		t.Errorf("Unexpected round trip %+v", loaded)
	}
}

func TestResolveProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Anthropic.APIKey = "sk-ant"

	key, err := ResolveProvider(cfg)
	if err != nil {
		t.Fatalf("ResolveProvider failed: %v", err)
	}
	if key.Provider != llm.ProviderAnthropic || key.APIKey != "sk-ant" {
		t.Errorf("Expected fallback to configured anthropic, got %+v", key)
	}

	cfg.Gemini.APIKey = "g-key"
	if key, _ := ResolveProvider(cfg); key.Provider != llm.ProviderGemini {
		t.Errorf("Expected preferred gemini once configured, got %s", key.Provider)
	}

	cfg = Defaults()
	cfg.Providers = []string{llm.ProviderGemini}
	key, err = ResolveProvider(cfg)
	if err != nil {
		t.Fatalf("ResolveProvider failed: %v", err)
	}
	if key.Provider != llm.ProviderGemini || key.HasCredential() {
		t.Errorf("Expected unconfigured gemini without credential, got %+v", key)
	}
}

func TestNewTransport(t *testing.T) {
	for _, provider := range []string{llm.ProviderGemini, llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderOllama} {
		t.Run(provider, func(t *testing.T) {
			key := &llm.ClientKey{Provider: provider, APIKey: "k", Host: "localhost:11434"}
			transport, err := NewTransport(key, zerolog.Nop())
			if err != nil {
				t.Fatalf("NewTransport failed: %v", err)
			}
			if transport == nil {
				t.Fatal("Expected a transport")
			}
		})
	}

	if _, err := NewTransport(&llm.ClientKey{Provider: "skynet"}, zerolog.Nop()); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
