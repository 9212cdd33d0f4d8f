package redisconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("TOOLGATE_REDIS_KEY_PREFIX", "staging:")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.Addr)
	assert.Equal(t, "staging:", cfg.KeyPrefix)
	assert.Equal(t, 0, cfg.DB)
}

func TestConfig_Overlay(t *testing.T) {
	base := Config{Addr: "localhost:6379", Password: "secret", DB: 2, KeyPrefix: "toolgate:"}

	t.Run("zero values keep the base", func(t *testing.T) {
		assert.Equal(t, base, base.Overlay(Config{}))
	})

	t.Run("set values replace the base", func(t *testing.T) {
		got := base.Overlay(Config{Addr: "redis:6379", DB: 5})
		assert.Equal(t, Config{Addr: "redis:6379", Password: "secret", DB: 5, KeyPrefix: "toolgate:"}, got)
	})
}

func TestConfigFromEnv_RejectsMalformedDB(t *testing.T) {
	t.Setenv("REDIS_DB", "two")

	_, err := ConfigFromEnv()
	assert.Error(t, err)
}
