package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("accept defaults", func(t *testing.T) {
		in := strings.NewReader("ck_wizard\n\n\n\n\n")
		var out bytes.Buffer

		cfg, err := NewWizardWithIO(in, &out).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, "ck_wizard", cfg.Composio.APIKey)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "memory", cfg.Session.Backend)
		assert.Contains(t, out.String(), "Configuration complete")
		assert.NoError(t, cfg.Validate())
	})

	t.Run("re-prompt on invalid input", func(t *testing.T) {
		input := strings.Join([]string{
			"",                  // api key required
			"ck_wizard",         // api key
			"not a url",         // rejected
			"https://proxy.dev", // base url
			"99999",             // rejected
			"9090",              // port
			"redis",             // backend
			"redis.local:6379",  // redis addr
			"chatty",            // rejected
			"DEBUG",             // log level
		}, "\n") + "\n"
		var out bytes.Buffer

		cfg, err := NewWizardWithIO(strings.NewReader(input), &out).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, "https://proxy.dev", cfg.Composio.BaseURL)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "redis", cfg.Session.Backend)
		assert.Equal(t, "redis", cfg.RateLimit.Backend)
		assert.Equal(t, "redis.local:6379", cfg.Redis.Addr)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 4, strings.Count(out.String(), "Error:"))
	})

	t.Run("keep existing key", func(t *testing.T) {
		base := DefaultConfig()
		base.Composio.APIKey = "ck_existing"

		cfg, err := NewWizardWithIO(strings.NewReader("\n\n\n\n\n"), &bytes.Buffer{}).Run(base)

		require.NoError(t, err)
		assert.Equal(t, "ck_existing", cfg.Composio.APIKey)
	})

	t.Run("input ends early", func(t *testing.T) {
		_, err := NewWizardWithIO(strings.NewReader(""), &bytes.Buffer{}).Run(nil)
		assert.Error(t, err)
	})
}
