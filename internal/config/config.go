package config

import (
	"fmt"
	"os"
	"time"

	"corpusbot/internal/llm"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port    string `yaml:"port"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	Telegram struct {
		Token          string `yaml:"token"`
		Mode           string `yaml:"mode"` // "polling" or "webhook"
		WebhookURL     string `yaml:"webhook_url"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
		Debug          bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Generation struct {
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"generation"`

	// Tried in order; the offline fallback is appended when enabled.
	Providers []llm.ProviderConfig `yaml:"providers"`

	Fallback struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"fallback"`

	Corpus struct {
		Path             string `yaml:"path"`
		CounterPath      string `yaml:"counter_path"`
		ReconcileOnStart bool   `yaml:"reconcile_on_start"`
	} `yaml:"corpus"`

	Incidents struct {
		Path string `yaml:"path"`
	} `yaml:"incidents"`

	Database struct {
		Type string `yaml:"type"` // "memory", "sqlite" or "postgres"
		Path string `yaml:"path"` // SQLite file
		URL  string `yaml:"url"`  // PostgreSQL URL
	} `yaml:"database"`

	Locks struct {
		StaleAfter time.Duration `yaml:"stale_after"`
	} `yaml:"locks"`

	Search struct {
		EngineURL      string        `yaml:"engine_url"`
		UserAgent      string        `yaml:"user_agent"`
		MaxResults     int           `yaml:"max_results"`
		MaxConcurrency int           `yaml:"max_concurrency"`
		ChunkWords     int           `yaml:"chunk_words"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout"`
		RequestDelay   time.Duration `yaml:"request_delay"`
		RenderJS       bool          `yaml:"render_js"`
	} `yaml:"search"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	// Expand environment variables in secrets
	for i := range config.Providers {
		config.Providers[i].APIKey = os.ExpandEnv(config.Providers[i].APIKey)
	}
	config.Telegram.Token = os.ExpandEnv(config.Telegram.Token)
	config.Database.URL = os.ExpandEnv(config.Database.URL)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Telegram.Mode == "" {
		c.Telegram.Mode = "polling"
	}
	if c.Telegram.MaxUploadBytes == 0 {
		c.Telegram.MaxUploadBytes = 5 << 20
	}

	if c.Generation.RequestTimeout <= 0 || c.Generation.RequestTimeout > llm.MaxRequestTimeout {
		c.Generation.RequestTimeout = llm.MaxRequestTimeout
	}

	if c.Fallback.Enabled == nil {
		enabled := true
		c.Fallback.Enabled = &enabled
	}

	if c.Corpus.Path == "" {
		c.Corpus.Path = "./data/train.jsonl"
	}
	if c.Corpus.CounterPath == "" {
		c.Corpus.CounterPath = "./data/counter.txt"
	}

	if c.Incidents.Path == "" {
		c.Incidents.Path = "./data/incidents.log"
	}

	if c.Database.Type == "" {
		c.Database.Type = "memory"
	}
	if c.Database.Type == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "./data/corpusbot.db"
	}

	if c.Locks.StaleAfter == 0 {
		c.Locks.StaleAfter = 10 * time.Minute
	}

	if c.Search.EngineURL == "" {
		c.Search.EngineURL = "https://html.duckduckgo.com/html/"
	}
	if c.Search.UserAgent == "" {
		c.Search.UserAgent = "Mozilla/5.0 (compatible; corpusbot/1.0)"
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 5
	}
	if c.Search.MaxConcurrency == 0 {
		c.Search.MaxConcurrency = 2
	}
	if c.Search.ChunkWords == 0 {
		c.Search.ChunkWords = 100
	}
	if c.Search.FetchTimeout == 0 {
		c.Search.FetchTimeout = 20 * time.Second
	}
	if c.Search.RequestDelay == 0 {
		c.Search.RequestDelay = 500 * time.Millisecond
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// FallbackEnabled reports whether the offline generator ends the chain.
func (c *Config) FallbackEnabled() bool {
	return c.Fallback.Enabled == nil || *c.Fallback.Enabled
}

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	for i, p := range c.Providers {
		switch p.Type {
		case llm.ProviderGemini, llm.ProviderGroq, llm.ProviderOpenRouter,
			llm.ProviderOpenAI, llm.ProviderAnthropic:
		case llm.ProviderWebChat:
			if p.BaseURL == "" {
				return fmt.Errorf("providers[%d]: webchat requires base_url", i)
			}
		default:
			return fmt.Errorf("providers[%d]: unknown provider type %q", i, p.Type)
		}
	}

	switch c.Telegram.Mode {
	case "polling":
	case "webhook":
		if c.Telegram.WebhookURL == "" {
			return fmt.Errorf("telegram webhook mode requires webhook_url")
		}
	default:
		return fmt.Errorf("unknown telegram mode %q", c.Telegram.Mode)
	}

	switch c.Database.Type {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("postgres database requires url")
		}
	default:
		return fmt.Errorf("unknown database type %q", c.Database.Type)
	}

	return nil
}

// ChainConfig maps the generation settings onto the llm factory input.
func (c *Config) ChainConfig() llm.ChainConfig {
	return llm.ChainConfig{
		Providers:       c.Providers,
		RequestTimeout:  c.Generation.RequestTimeout,
		FallbackEnabled: c.FallbackEnabled(),
	}
}
