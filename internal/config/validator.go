package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/labstack/gommon/bytes"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateURL validates an absolute http(s) URL
func (v *Validator) ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}

	return nil
}

// ValidatePort validates a TCP port number
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	if level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(level)); err != nil {
		return fmt.Errorf("invalid log level: %s", level)
	}
	return nil
}

// ValidateBackend validates a storage backend name
func (v *Validator) ValidateBackend(backend string) error {
	switch backend {
	case "memory", "redis":
		return nil
	default:
		return fmt.Errorf("backend must be memory or redis, got %q", backend)
	}
}

// ValidateSchedule validates a cron expression or @every descriptor
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
}

// ValidateSize validates a human readable byte size such as "1M"
func (v *Validator) ValidateSize(size string) error {
	if size == "" {
		return nil
	}
	n, err := bytes.Parse(size)
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("size must be positive")
	}
	return nil
}

// ValidateToolPattern validates an allow/deny entry
func (v *Validator) ValidateToolPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("tool pattern cannot be empty")
	}
	return nil
}
