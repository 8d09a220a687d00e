package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/timbrevoice/timbre/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Plugin configuration
	Plugins PluginConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// PluginConfig holds plugin discovery and positional-data settings
type PluginConfig struct {
	// SystemDir and UserDir are the two directories scanned for plugin
	// binaries. SystemDir takes precedence on duplicate filenames.
	SystemDir string
	UserDir   string

	// PositionalPollInterval drives the positional-data poll loop.
	PositionalPollInterval time.Duration

	// ProcessCacheTTL bounds how long a process snapshot may be reused
	// across arbitration passes.
	ProcessCacheTTL time.Duration

	// WatchDirs enables rescanning on filesystem changes.
	WatchDirs bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
	MetricsPort    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Plugins:       loadPluginConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadPluginConfig loads plugin configuration from environment
func loadPluginConfig() PluginConfig {
	return PluginConfig{
		SystemDir:              getEnv("TIMBRE_SYSTEM_PLUGIN_DIR", defaultSystemPluginDir()),
		UserDir:                getEnv("TIMBRE_USER_PLUGIN_DIR", defaultUserPluginDir()),
		PositionalPollInterval: getEnvDuration("TIMBRE_POSITIONAL_POLL_INTERVAL", time.Second),
		ProcessCacheTTL:        getEnvDuration("TIMBRE_PROCESS_CACHE_TTL", time.Second),
		WatchDirs:              getEnvBool("TIMBRE_WATCH_PLUGIN_DIRS", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("TIMBRE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("TIMBRE_METRICS_ENABLED", true),
		MetricsPort:    getEnv("TIMBRE_METRICS_PORT", "9090"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Plugins.SystemDir == "" && c.Plugins.UserDir == "" {
		return fmt.Errorf("at least one plugin directory is required")
	}
	if c.Plugins.PositionalPollInterval <= 0 {
		return fmt.Errorf("positional poll interval must be positive")
	}
	if c.Plugins.ProcessCacheTTL <= 0 {
		return fmt.Errorf("process cache TTL must be positive")
	}
	if c.Observability.MetricsEnabled && c.Observability.MetricsPort == "" {
		return fmt.Errorf("metrics port is required when metrics are enabled")
	}
	return nil
}

// defaultSystemPluginDir returns the machine-wide plugin directory.
func defaultSystemPluginDir() string {
	return "/usr/lib/timbre/plugins"
}

// defaultUserPluginDir returns the per-user plugin directory.
func defaultUserPluginDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "timbre", "plugins")
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
