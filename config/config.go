// Package config provides centralized configuration for coursebase.
package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	DataDir         string     // Directory for the app store and per-site store files
	LogLevel        slog.Level // Minimum log level
	CleanupEnabled  bool       // Whether scheduled storage reclamation runs
	CleanupSchedule string     // Cron expression for storage reclamation
}

// Cfg is the global configuration instance, loaded at startup.
var Cfg Config

func init() {
	// Load .env file before reading config (ignore error if file doesn't exist)
	godotenv.Load()
	Cfg = Load()
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cleanupEnabled := true
	if val := strings.ToLower(os.Getenv("COURSEBASE_CLEANUP_ENABLED")); val == "false" {
		cleanupEnabled = false
	}

	return Config{
		DataDir:         getEnv("COURSEBASE_DATA_DIR", "coursedata"),
		LogLevel:        parseLogLevel(os.Getenv("COURSEBASE_LOG_LEVEL")),
		CleanupEnabled:  cleanupEnabled,
		CleanupSchedule: getEnv("COURSEBASE_CLEANUP_SCHEDULE", "0 3 * * *"),
	}
}

// parseLogLevel maps a level name to a slog level, defaulting to info.
func parseLogLevel(val string) slog.Level {
	switch strings.ToLower(val) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv returns the environment variable value or a default if not set.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
