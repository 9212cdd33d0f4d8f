package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard reading from stdin
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout)
}

// NewWizardWithIO creates a wizard over arbitrary streams
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard, starting from base when non-nil
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== Toolgate Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	if base != nil {
		cp := *base
		cfg = &cp
	}
	validator := NewValidator()

	// Composio API key
	for {
		prompt := "Composio API key"
		if cfg.Composio.APIKey != "" {
			prompt += " (press Enter to keep current)"
		}
		key, err := w.ask(prompt + ": ")
		if err != nil {
			return nil, err
		}
		if key == "" && cfg.Composio.APIKey != "" {
			break
		}
		if key == "" {
			fmt.Fprintln(w.out, "Error: API key is required")
			continue
		}
		cfg.Composio.APIKey = key
		break
	}

	// Upstream base URL
	for {
		raw, err := w.ask(fmt.Sprintf("Composio base URL [%s]: ", cfg.Composio.BaseURL))
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		if err := validator.ValidateURL(raw); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Composio.BaseURL = raw
		break
	}

	// Listen port
	for {
		raw, err := w.ask(fmt.Sprintf("Gateway port [%d]: ", cfg.Server.Port))
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		port, err := strconv.Atoi(raw)
		if err == nil {
			err = validator.ValidatePort(port)
		}
		if err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Server.Port = port
		break
	}

	// Storage backend
	for {
		raw, err := w.ask(fmt.Sprintf("Session and rate limit backend (memory/redis) [%s]: ", cfg.Session.Backend))
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		raw = strings.ToLower(raw)
		if err := validator.ValidateBackend(raw); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Session.Backend = raw
		cfg.RateLimit.Backend = raw
		break
	}

	if cfg.UsesRedis() {
		addr, err := w.ask(fmt.Sprintf("Redis address [%s]: ", cfg.Redis.Addr))
		if err != nil {
			return nil, err
		}
		if addr != "" {
			cfg.Redis.Addr = addr
		}
	}

	// Log level
	for {
		raw, err := w.ask(fmt.Sprintf("Log level [%s]: ", cfg.Logging.Level))
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		if err := validator.ValidateLogLevel(raw); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Logging.Level = strings.ToLower(raw)
		break
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete.")

	return cfg, nil
}

// ask prints a prompt and reads one trimmed line
func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
