package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COURSEBASE_DATA_DIR", "")
	t.Setenv("COURSEBASE_LOG_LEVEL", "")
	t.Setenv("COURSEBASE_CLEANUP_ENABLED", "")
	t.Setenv("COURSEBASE_CLEANUP_SCHEDULE", "")

	cfg := Load()
	assert.Equal(t, "coursedata", cfg.DataDir)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.CleanupEnabled)
	assert.Equal(t, "0 3 * * *", cfg.CleanupSchedule)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COURSEBASE_DATA_DIR", "/tmp/cb")
	t.Setenv("COURSEBASE_LOG_LEVEL", "debug")
	t.Setenv("COURSEBASE_CLEANUP_ENABLED", "false")
	t.Setenv("COURSEBASE_CLEANUP_SCHEDULE", "@hourly")

	cfg := Load()
	assert.Equal(t, "/tmp/cb", cfg.DataDir)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.CleanupEnabled)
	assert.Equal(t, "@hourly", cfg.CleanupSchedule)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("anything"))
}
