// Package config loads and validates the gateway configuration from
// YAML or JSON5 files, with environment expansion and $include merging.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Engine      EngineConfig      `yaml:"engine"`
	Retry       RetryConfig       `yaml:"retry"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

// ProvidersConfig names the default provider binding and holds
// credentials per provider.
type ProvidersConfig struct {
	Default      string                         `yaml:"default"`
	DefaultModel string                         `yaml:"default_model"`
	Anthropic    ProviderCredentials            `yaml:"anthropic"`
	OpenAI       ProviderCredentials            `yaml:"openai"`
	Google       ProviderCredentials            `yaml:"google"`
	Extra        map[string]ProviderCredentials `yaml:"extra"`
}

type ProviderCredentials struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

type EngineConfig struct {
	SystemPrompt      string        `yaml:"system_prompt"`
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float32       `yaml:"temperature"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type SessionsConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxMessages int           `yaml:"max_messages"`
	SweepEvery  string        `yaml:"sweep_every"`
}

type AttachmentsConfig struct {
	CacheDir          string        `yaml:"cache_dir"`
	MediaTTL          time.Duration `yaml:"media_ttl"`
	FileTTL           time.Duration `yaml:"file_ttl"`
	MaxImageDimension int           `yaml:"max_image_dimension"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, resolves includes, expands environment variables
// and decodes into a validated Config. Unknown keys are rejected so
// typos fail loudly at startup.
func Load(path string) (*Config, error) {
	tree, err := readTree(path, map[string]bool{})
	if err != nil {
		return nil, err
	}
	cfg, err := decodeTree(tree)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Sessions.SweepEvery == "" {
		cfg.Sessions.SweepEvery = "@every 1m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Providers.Default {
	case "anthropic", "openai", "google":
	default:
		if _, ok := c.Providers.Extra[c.Providers.Default]; !ok {
			return fmt.Errorf("unknown default provider %q", c.Providers.Default)
		}
	}
	// Extra entries are OpenAI-compatible endpoints; without both
	// fields the client cannot be built at startup.
	for name, creds := range c.Providers.Extra {
		if creds.APIKey == "" || creds.BaseURL == "" {
			return fmt.Errorf("extra provider %q needs api_key and base_url", name)
		}
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram enabled without bot_token")
	}
	return nil
}
