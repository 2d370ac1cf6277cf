package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/kpfind/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected config.LogLevel
	}{
		{"off", config.LogLevelOff},
		{"NONE", config.LogLevelOff},
		{"error", config.LogLevelError},
		{"warn", config.LogLevelWarn},
		{"Warning", config.LogLevelWarn},
		{"info", config.LogLevelInfo},
		{"  debug  ", config.LogLevelDebug},
		{"", config.LogLevelWarn},
		{"verbose", config.LogLevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, config.ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "off", config.LogLevelOff.String())
	assert.Equal(t, "error", config.LogLevelError.String())
	assert.Equal(t, "warn", config.LogLevelWarn.String())
	assert.Equal(t, "info", config.LogLevelInfo.String())
	assert.Equal(t, "debug", config.LogLevelDebug.String())
	assert.Equal(t, "warn", config.LogLevel(99).String())
}

func TestStreamLogger_LevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewStreamLogger(config.LogLevelWarn, &buf)

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("current dir is world-readable")
	logger.Error("bad credentials")

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "[WARN] current dir is world-readable")
	assert.Contains(t, out, "[ERROR] bad credentials")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestStreamLogger_SetLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewStreamLogger(config.LogLevelError, &buf)

	logger.Debug("hidden")
	logger.SetLevel(config.LogLevelDebug)
	assert.Equal(t, config.LogLevelDebug, logger.Level())
	logger.Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[DEBUG] shown")
}

func TestNewLogger_File(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "logs", "daemon.log")

	logger, err := config.NewLogger(config.LogLevelInfo, logPath)
	require.NoError(t, err)

	logger.Info("daemon listening on %s", "/tmp/kpfind.sock")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logPath) //nolint:gosec // G304: Test path from t.TempDir()
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] daemon listening on /tmp/kpfind.sock")

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Logging after close is a no-op
	logger.Error("after close")
}

func TestNewLogger_OffWithFile(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "never.log")

	logger, err := config.NewLogger(config.LogLevelOff, logPath)
	require.NoError(t, err)
	logger.Error("dropped")
	require.NoError(t, logger.Close())

	_, err = os.Stat(logPath)
	assert.True(t, os.IsNotExist(err))
}

func TestLogger_Writer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewStreamLogger(config.LogLevelDebug, &buf)

	n, err := logger.Writer(config.LogLevelInfo).Write([]byte("  from writer \n"))
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	assert.Contains(t, buf.String(), "[INFO] from writer")
}

func TestNullLogger(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()
	assert.NotPanics(t, func() {
		logger.Error("x")
		logger.Debug("y")
	})
	assert.NoError(t, logger.Close())
}
