package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	d := createTestDaemon(t)

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(d.GetConfig().DataDir, "toolgate.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d := createTestDaemon(t)
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())

	_, err := os.Stat(lm.pidFile)
	assert.NoError(t, err)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())

	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lm.IsRunning())
}

func TestLifecycleManagerGetPID(t *testing.T) {
	d := createTestDaemon(t)
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLifecycleManagerStopIsIdempotent(t *testing.T) {
	d := createTestDaemon(t)
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Stop())
	require.NoError(t, lm.Stop())
}

func TestReadPIDInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(PIDFilePath(dir), []byte("not-a-pid"), 0644))

	_, err := ReadPID(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID file")
}

func TestReadPIDTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(PIDFilePath(dir), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))

	pid, err := ReadPID(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestSignalStopWithoutPIDFile(t *testing.T) {
	_, err := SignalStop(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestProcessAliveSelf(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
}
