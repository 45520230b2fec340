// ABOUTME: Configuration loading and parsing for persona-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete persona-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Letta      LettaConfig      `yaml:"letta"`
	Database   DatabaseConfig   `yaml:"database"`
	CookieAuth CookieAuthConfig `yaml:"cookie_auth"`
	Agents     AgentsConfig     `yaml:"agents"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Cache      CacheConfig      `yaml:"cache"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// LettaConfig holds connection settings for the upstream agent-runtime API
type LettaConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CookieAuthConfig holds cookie-based identity configuration.
// When disabled, every visitor shares the single "default" identity.
type CookieAuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Secret     string `yaml:"secret"`
	CookieName string `yaml:"cookie_name"`

	MaxAge    time.Duration `yaml:"-"`
	MaxAgeRaw string        `yaml:"max_age"`
}

// AgentsConfig holds agent creation settings
type AgentsConfig struct {
	TemplatePath string `yaml:"template_path"`
	CreateFromUI bool   `yaml:"create_from_ui"`
}

// RateLimitConfig holds per-operation-class rate limits
type RateLimitConfig struct {
	Read RateClassConfig `yaml:"read"`
	Send RateClassConfig `yaml:"send"`
}

// RateClassConfig is the limit for one operation class: at most Requests
// per Window per identity.
type RateClassConfig struct {
	Requests int `yaml:"requests"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`

	AgentListTTL    time.Duration `yaml:"-"`
	AgentListTTLRaw string        `yaml:"agent_list_ttl"`
}

// ReconcileConfig holds the detach reconciliation sweep schedule
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Load when fields are unset.
const (
	DefaultHTTPAddr      = ":8080"
	DefaultLettaBaseURL  = "http://localhost:8283"
	DefaultCookieName    = "persona_uid"
	DefaultReadRequests  = 200
	DefaultSendRequests  = 30
	DefaultCacheEntries  = 1024
	DefaultSweepSchedule = "@every 5m"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Letta.BaseURL == "" {
		c.Letta.BaseURL = DefaultLettaBaseURL
	}
	if c.Letta.Timeout == 0 {
		c.Letta.Timeout = 30 * time.Second
	}
	if c.CookieAuth.CookieName == "" {
		c.CookieAuth.CookieName = DefaultCookieName
	}
	if c.CookieAuth.MaxAge == 0 {
		c.CookieAuth.MaxAge = 30 * 24 * time.Hour
	}
	if c.RateLimit.Read.Requests == 0 {
		c.RateLimit.Read.Requests = DefaultReadRequests
	}
	if c.RateLimit.Read.Window == 0 {
		c.RateLimit.Read.Window = time.Minute
	}
	if c.RateLimit.Send.Requests == 0 {
		c.RateLimit.Send.Requests = DefaultSendRequests
	}
	if c.RateLimit.Send.Window == 0 {
		c.RateLimit.Send.Window = time.Minute
	}
	if c.Cache.AgentListTTL == 0 {
		c.Cache.AgentListTTL = time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheEntries
	}
	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = DefaultSweepSchedule
	}
	if c.Agents.TemplatePath == "" {
		c.Agents.TemplatePath = "default-agent.toml"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.CookieAuth.Enabled && c.CookieAuth.Secret == "" {
		return fmt.Errorf("cookie_auth.secret is required when cookie_auth is enabled")
	}

	if c.RateLimit.Read.Requests < 0 || c.RateLimit.Send.Requests < 0 {
		return fmt.Errorf("rate_limit requests must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Letta.TimeoutRaw, &cfg.Letta.Timeout, "letta.timeout"},
		{cfg.CookieAuth.MaxAgeRaw, &cfg.CookieAuth.MaxAge, "cookie_auth.max_age"},
		{cfg.RateLimit.Read.WindowRaw, &cfg.RateLimit.Read.Window, "rate_limit.read.window"},
		{cfg.RateLimit.Send.WindowRaw, &cfg.RateLimit.Send.Window, "rate_limit.send.window"},
		{cfg.Cache.AgentListTTLRaw, &cfg.Cache.AgentListTTL, "cache.agent_list_ttl"},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}
