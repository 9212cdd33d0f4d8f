package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the toolgate configuration
type Config struct {
	// Server is the caller-facing HTTP gateway
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Composio is the upstream tool-execution backend
	Composio ComposioConfig `json:"composio" mapstructure:"composio"`

	// Session caching
	Session SessionConfig `json:"session" mapstructure:"session"`

	// RateLimit is the per-user admission budget
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Redis backs the shared session store and rate limiter
	Redis RedisConfig `json:"redis" mapstructure:"redis"`

	// Tools restricts which built-in tools are exposed
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory for logs and the audit trail
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP gateway configuration
type ServerConfig struct {
	Host                   string `json:"host" mapstructure:"host"`
	Port                   int    `json:"port" mapstructure:"port"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           string `json:"max_body_bytes" mapstructure:"max_body_bytes"` // echo size string, e.g. "1M"
	SharedSecret           string `json:"shared_secret,omitempty" mapstructure:"shared_secret"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ShutdownTimeout returns the graceful shutdown timeout
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// ComposioConfig holds upstream client configuration
type ComposioConfig struct {
	APIKey          string   `json:"api_key" mapstructure:"api_key"`
	BaseURL         string   `json:"base_url" mapstructure:"base_url"`
	TimeoutSeconds  int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	AllowedToolkits []string `json:"allowed_toolkits" mapstructure:"allowed_toolkits"`
}

// Timeout returns the upstream request timeout
func (c ComposioConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	Backend              string `json:"backend" mapstructure:"backend"` // memory, redis
	TTLMinutes           int    `json:"ttl_minutes" mapstructure:"ttl_minutes"`
	SingleFlight         bool   `json:"single_flight" mapstructure:"single_flight"`
	SweepIntervalMinutes int    `json:"sweep_interval_minutes" mapstructure:"sweep_interval_minutes"`
}

// TTL returns the session lifetime
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// SweepInterval returns how often expired in-memory sessions are dropped
func (s SessionConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalMinutes) * time.Minute
}

// RateLimitConfig holds the sliding-window settings
type RateLimitConfig struct {
	Backend           string `json:"backend" mapstructure:"backend"` // memory, redis
	RequestsPerWindow int    `json:"requests_per_window" mapstructure:"requests_per_window"`
	WindowSeconds     int    `json:"window_seconds" mapstructure:"window_seconds"`
	JanitorSchedule   string `json:"janitor_schedule" mapstructure:"janitor_schedule"`
}

// Window returns the window length
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// ToolsConfig holds the tool exposure policy
type ToolsConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8080,
			ShutdownTimeoutSeconds: 5,
			MaxBodyBytes:           "1M",
		},
		Composio: ComposioConfig{
			BaseURL:         "https://backend.composio.dev/api/v3/",
			TimeoutSeconds:  30,
			AllowedToolkits: []string{"twilio", "gmail", "tavily", "google"},
		},
		Session: SessionConfig{
			Backend:              "memory",
			TTLMinutes:           60,
			SingleFlight:         false,
			SweepIntervalMinutes: 10,
		},
		RateLimit: RateLimitConfig{
			Backend:           "memory",
			RequestsPerWindow: 50,
			WindowSeconds:     60,
			JanitorSchedule:   "@every 5m",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "toolgate:",
		},
		Tools: ToolsConfig{
			Allow: []string{"*"},
			Deny:  []string{},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "toolgate",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	cp := *c
	if cp.Composio.APIKey != "" {
		cp.Composio.APIKey = "***"
	}
	if cp.Redis.Password != "" {
		cp.Redis.Password = "***"
	}
	if cp.Server.SharedSecret != "" {
		cp.Server.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(cp, "", "  ")
	return string(data)
}

// UsesRedis reports whether any component is backed by Redis
func (c *Config) UsesRedis() bool {
	return c.Session.Backend == "redis" || c.RateLimit.Backend == "redis"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	v := NewValidator()

	if c.Composio.APIKey == "" {
		return fmt.Errorf("composio api key is required (set composio.api_key or COMPOSIO_API_KEY)")
	}
	if err := v.ValidateURL(c.Composio.BaseURL); err != nil {
		return fmt.Errorf("composio.base_url: %w", err)
	}
	if c.Composio.TimeoutSeconds <= 0 {
		return fmt.Errorf("composio.timeout_seconds must be positive")
	}

	if err := v.ValidatePort(c.Server.Port); err != nil {
		return fmt.Errorf("server.port: %w", err)
	}
	if err := v.ValidateSize(c.Server.MaxBodyBytes); err != nil {
		return fmt.Errorf("server.max_body_bytes: %w", err)
	}

	if err := v.ValidateBackend(c.Session.Backend); err != nil {
		return fmt.Errorf("session.backend: %w", err)
	}
	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}

	if err := v.ValidateBackend(c.RateLimit.Backend); err != nil {
		return fmt.Errorf("rate_limit.backend: %w", err)
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("rate_limit.requests_per_window must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive")
	}
	if err := v.ValidateSchedule(c.RateLimit.JanitorSchedule); err != nil {
		return fmt.Errorf("rate_limit.janitor_schedule: %w", err)
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when a redis backend is selected")
	}

	for _, p := range append(append([]string{}, c.Tools.Allow...), c.Tools.Deny...) {
		if err := v.ValidateToolPattern(p); err != nil {
			return fmt.Errorf("tools: %w", err)
		}
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	return nil
}
