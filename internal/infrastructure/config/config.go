package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all client runtime configuration.
type Config struct {
	Backend     BackendConfig     `yaml:"backend" toml:"backend"`
	Channel     ChannelConfig     `yaml:"channel" toml:"channel"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" toml:"diagnostics"`
	Logging     LogConfig         `yaml:"logging" toml:"logging"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
	Retry       RetryConfig       `yaml:"retry" toml:"retry"`
}

// BackendConfig holds the REST collaborator settings.
type BackendConfig struct {
	URL       string   `envconfig:"BACKEND_URL" default:"http://localhost:8000" yaml:"url" toml:"url"`
	APIPrefix string   `envconfig:"BACKEND_API_PREFIX" default:"/api" yaml:"api_prefix" toml:"api_prefix"`
	Timeout   Duration `envconfig:"BACKEND_TIMEOUT" default:"30s" yaml:"timeout" toml:"timeout"`
	UserAgent string   `envconfig:"BACKEND_USER_AGENT" default:"ragstudio-client/1.0" yaml:"user_agent" toml:"user_agent"`
}

// ChannelConfig holds push channel settings.
type ChannelConfig struct {
	Path           string   `envconfig:"CHANNEL_PATH" default:"/ws" yaml:"path" toml:"path"`
	ConnectTimeout Duration `envconfig:"CHANNEL_CONNECT_TIMEOUT" default:"10s" yaml:"connect_timeout" toml:"connect_timeout"`
	WriteTimeout   Duration `envconfig:"CHANNEL_WRITE_TIMEOUT" default:"10s" yaml:"write_timeout" toml:"write_timeout"`
	Keepalive      Duration `envconfig:"CHANNEL_KEEPALIVE" default:"30s" yaml:"keepalive" toml:"keepalive"`
}

// DiagnosticsConfig holds the local diagnostics HTTP surface settings.
type DiagnosticsConfig struct {
	Enabled bool   `envconfig:"DIAG_ENABLED" default:"false" yaml:"enabled" toml:"enabled"`
	Host    string `envconfig:"DIAG_HOST" default:"127.0.0.1" yaml:"host" toml:"host"`
	Port    string `envconfig:"DIAG_PORT" default:"8089" yaml:"port" toml:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds outbound request and diagnostics rate limits.
// RequestsPerSecond of zero disables outbound limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"0" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"20" yaml:"burst" toml:"burst"`
	DiagnosticsRPS    int     `envconfig:"RATE_LIMIT_DIAG_RPS" default:"50" yaml:"diagnostics_rps" toml:"diagnostics_rps"`
}

// RetryConfig holds REST retry and circuit breaker settings.
type RetryConfig struct {
	MaxRetries      int      `envconfig:"RETRY_MAX" default:"3" yaml:"max_retries" toml:"max_retries"`
	MinWait         Duration `envconfig:"RETRY_MIN_WAIT" default:"1s" yaml:"min_wait" toml:"min_wait"`
	MaxWait         Duration `envconfig:"RETRY_MAX_WAIT" default:"30s" yaml:"max_wait" toml:"max_wait"`
	BreakerFailures uint32   `envconfig:"BREAKER_FAILURES" default:"10" yaml:"breaker_failures" toml:"breaker_failures"`
	BreakerTimeout  Duration `envconfig:"BREAKER_TIMEOUT" default:"30s" yaml:"breaker_timeout" toml:"breaker_timeout"`
}

// Duration is a time.Duration that decodes from strings such as "10s" in
// environment variables, YAML and TOML alike.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads environment configuration and then overlays the YAML or
// TOML file at path. Keys present in the file take precedence; keys it omits
// keep their environment or default values.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail late at dial time.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required")
	}
	if c.Channel.ConnectTimeout.Std() <= 0 {
		return fmt.Errorf("channel connect timeout must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// DiagnosticsAddr returns host:port for the diagnostics server.
func (c *Config) DiagnosticsAddr() string {
	return c.Diagnostics.Host + ":" + c.Diagnostics.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:       "http://localhost:8000",
			APIPrefix: "/api",
			Timeout:   Duration(30 * time.Second),
			UserAgent: "ragstudio-client/1.0",
		},
		Channel: ChannelConfig{
			Path:           "/ws",
			ConnectTimeout: Duration(10 * time.Second),
			WriteTimeout:   Duration(10 * time.Second),
			Keepalive:      Duration(30 * time.Second),
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    "8089",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 0,
			Burst:             20,
			DiagnosticsRPS:    50,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			MinWait:         Duration(time.Second),
			MaxWait:         Duration(30 * time.Second),
			BreakerFailures: 10,
			BreakerTimeout:  Duration(30 * time.Second),
		},
	}
}
