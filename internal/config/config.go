package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RefreshIntervals is the set of auto-refresh intervals the dashboard offers.
var RefreshIntervals = []int{15, 30, 60, 120, 300}

type UpstreamConfig struct {
	BaseURL    string `yaml:"base_url"`    // Orchestrator API base URL
	TimeoutSec int    `yaml:"timeout_sec"` // Per-request timeout in seconds
	MaxRetries int    `yaml:"max_retries"` // Retry attempts for GETs (0 = no retry)
}

type RefreshConfig struct {
	Enabled     bool     `yaml:"enabled"`      // Enable the auto-refresh countdown
	IntervalSec int      `yaml:"interval_sec"` // One of 15/30/60/120/300
	Keys        []string `yaml:"keys"`         // Cache keys invalidated on refresh
}

type PollConfig struct {
	Enabled     bool `yaml:"enabled"`      // Enable background cache pre-warming
	IntervalSec int  `yaml:"interval_sec"` // Poll period in seconds
}

type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`     // Enable the query cache
	MaxEntries int  `yaml:"max_entries"` // Max cached entries
}

type ProviderConfig struct {
	APIKey string `yaml:"api_key"` // Normally supplied via env, not the file
	Model  string `yaml:"model"`   // Model name override
}

type ChatConfig struct {
	SystemPrompt string         `yaml:"system_prompt"` // Override the built-in assistant prompt
	MaxTokens    int            `yaml:"max_tokens"`    // Output token bound per request
	OpenAI       ProviderConfig `yaml:"openai"`
	Gemini       ProviderConfig `yaml:"gemini"`
	Anthropic    ProviderConfig `yaml:"anthropic"`
}

type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`    // Enable API key authentication
	Keys      []string `yaml:"keys"`       // List of valid API keys
	AdminKeys []string `yaml:"admin_keys"` // Keys allowed to trigger agent runs
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`          // Enable rate limiting
	RequestsPerMin int  `yaml:"requests_per_min"` // Max requests per minute per IP/key
	BurstSize      int  `yaml:"burst_size"`       // Burst allowance
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Enable Prometheus metrics at /metrics
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable the SQLite request/action history
	Path    string `yaml:"path"`    // Database file path
}

type LoggingConfig struct {
	Format string `yaml:"format"` // "json" or "text" (default "text")
}

type Config struct {
	ListenAddr string          `yaml:"listen_addr"` // Gateway listen address (e.g. ":3000")
	Upstream   UpstreamConfig  `yaml:"upstream"`
	Refresh    RefreshConfig   `yaml:"refresh"`
	Poll       PollConfig      `yaml:"poll"`
	Cache      CacheConfig     `yaml:"cache"`
	Chat       ChatConfig      `yaml:"chat"`
	Auth       AuthConfig      `yaml:"auth"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	History    HistoryConfig   `yaml:"history"`
	Logging    LoggingConfig   `yaml:"logging"`

	configPath string `yaml:"-"` // Path to config file (set during Load)
}

// ConfigPath returns the path to the loaded config file.
func (c *Config) ConfigPath() string { return c.configPath }

// Load reads the YAML config at path, applies defaults and env overrides,
// and validates. A missing file is not an error: the gateway runs with
// defaults plus environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		cfg.configPath = path
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr: ":3000",
		Upstream: UpstreamConfig{
			BaseURL:    "http://localhost:8000",
			TimeoutSec: 15,
			MaxRetries: 1,
		},
		Refresh: RefreshConfig{
			Enabled:     true,
			IntervalSec: 30,
			Keys:        []string{"status", "forecast", "sensors", "logs"},
		},
		Poll: PollConfig{
			Enabled:     true,
			IntervalSec: 30,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 256,
		},
		Chat: ChatConfig{
			MaxTokens: 1024,
		},
		Logging: LoggingConfig{
			Format: "text",
		},
	}
}

// applyEnv layers environment variables over the file values. Secrets are
// only ever read from the environment in practice; the YAML fields exist for
// local development.
func (c *Config) applyEnv() {
	if v := os.Getenv("API_SERVER_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Chat.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.Chat.OpenAI.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Chat.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Chat.Gemini.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Chat.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		c.Chat.Anthropic.Model = v
	}
}

func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if !ValidRefreshInterval(c.Refresh.IntervalSec) {
		return fmt.Errorf("refresh.interval_sec must be one of %v, got %d", RefreshIntervals, c.Refresh.IntervalSec)
	}
	if len(c.Refresh.Keys) == 0 {
		c.Refresh.Keys = []string{"status", "forecast", "sensors", "logs"}
	}
	if c.Poll.IntervalSec <= 0 {
		c.Poll.IntervalSec = 30
	}
	if c.Upstream.TimeoutSec <= 0 {
		c.Upstream.TimeoutSec = 15
	}
	if c.Upstream.MaxRetries < 0 {
		c.Upstream.MaxRetries = 0
	}
	if c.Chat.MaxTokens <= 0 {
		c.Chat.MaxTokens = 1024
	}

	// Defaults for rate limiting
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin == 0 {
		c.RateLimit.RequestsPerMin = 120
	}
	if c.RateLimit.Enabled && c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = 20
	}

	// Defaults for cache
	if c.Cache.Enabled && c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 256
	}

	// Defaults for history
	if c.History.Enabled && c.History.Path == "" {
		c.History.Path = "respiro-history.db"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be %q or %q, got %q", "text", "json", c.Logging.Format)
	}

	return nil
}

// ValidRefreshInterval reports whether sec is one of the offered
// auto-refresh intervals.
func ValidRefreshInterval(sec int) bool {
	for _, v := range RefreshIntervals {
		if v == sec {
			return true
		}
	}
	return false
}
