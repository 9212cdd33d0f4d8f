package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReload(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	configPath := filepath.Join(t.TempDir(), "toolgate.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"composio": {"api_key": "ck"}, "logging": {"level": "info"}}`), 0644))

	var level atomic.Value
	w, err := NewWatcher(NewLoader(configPath), 20*time.Millisecond, func(cfg *Config) {
		level.Store(cfg.Logging.Level)
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(configPath, []byte(`{"composio": {"api_key": "ck"}, "logging": {"level": "debug"}}`), 0644))

	assert.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "toolgate.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"composio": {"api_key": "ck"}}`), 0644))

	var calls atomic.Int32
	w, err := NewWatcher(NewLoader(configPath), 20*time.Millisecond, func(cfg *Config) {
		calls.Add(1)
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// Invalid level is rejected, sibling files are ignored
	require.NoError(t, os.WriteFile(configPath, []byte(`{"composio": {"api_key": "ck"}, "logging": {"level": "loud"}}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcherRequiresCallback(t *testing.T) {
	_, err := NewWatcher(NewLoader("/tmp/x.json"), 0, nil)
	assert.Error(t, err)
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, err := NewWatcher(NewLoader(filepath.Join(t.TempDir(), "c.json")), 0, func(*Config) {})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
