package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "relay.yaml", `
providers:
  anthropic:
    api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Default != "anthropic" {
		t.Errorf("Providers.Default = %q, want anthropic", cfg.Providers.Default)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("Server.MetricsPort = %d, want 9090", cfg.Server.MetricsPort)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "relay.yaml", `
providrs:
  default: openai
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted misspelled top-level key")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "tok-123")
	path := writeFile(t, t.TempDir(), "relay.yaml", `
telegram:
  enabled: true
  bot_token: ${RELAY_TEST_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.BotToken != "tok-123" {
		t.Errorf("BotToken = %q, want tok-123", cfg.Telegram.BotToken)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
engine:
  max_tokens: 2048
  request_timeout: 1m
logging:
  level: debug
`)
	path := writeFile(t, dir, "relay.yaml", `
$include: base.yaml
logging:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxTokens != 2048 {
		t.Errorf("Engine.MaxTokens = %d, want 2048 from include", cfg.Engine.MaxTokens)
	}
	if cfg.Engine.RequestTimeout != time.Minute {
		t.Errorf("Engine.RequestTimeout = %v, want 1m", cfg.Engine.RequestTimeout)
	}
	// The including file wins on conflict.
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Load() error = %v, want include cycle", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeFile(t, t.TempDir(), "relay.json5", `{
  // comments are allowed here
  providers: {default: "google", google: {api_key: "g-key"}},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Default != "google" {
		t.Errorf("Providers.Default = %q, want google", cfg.Providers.Default)
	}
	if cfg.Providers.Google.APIKey != "g-key" {
		t.Errorf("Google.APIKey = %q", cfg.Providers.Google.APIKey)
	}
}

func TestValidateRejectsUnknownDefaultProvider(t *testing.T) {
	path := writeFile(t, t.TempDir(), "relay.yaml", `
providers:
  default: mystery
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted unknown default provider")
	}
}

func TestValidateExtraProviders(t *testing.T) {
	path := writeFile(t, t.TempDir(), "relay.yaml", `
providers:
  default: ark
  extra:
    ark:
      api_key: ark-key
      base_url: https://ark.example.com/v1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Default != "ark" {
		t.Errorf("Providers.Default = %q, want ark", cfg.Providers.Default)
	}

	// An extra entry without an endpoint cannot be built at startup,
	// so a default bound to it must fail at load time.
	path = writeFile(t, t.TempDir(), "relay.yaml", `
providers:
  default: ark
  extra:
    ark:
      api_key: ark-key
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted extra provider without base_url")
	}
}

func TestValidateRequiresTelegramToken(t *testing.T) {
	path := writeFile(t, t.TempDir(), "relay.yaml", `
telegram:
  enabled: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted enabled telegram without token")
	}
}
