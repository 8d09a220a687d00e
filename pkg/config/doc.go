// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Plugin settings:
//
//	TIMBRE_SYSTEM_PLUGIN_DIR="/usr/lib/timbre/plugins"
//	TIMBRE_USER_PLUGIN_DIR="$HOME/.local/share/timbre/plugins"
//	TIMBRE_POSITIONAL_POLL_INTERVAL="1s"
//	TIMBRE_PROCESS_CACHE_TTL="1s"
//	TIMBRE_WATCH_PLUGIN_DIRS="true"
//
// Observability settings:
//
//	TIMBRE_LOG_LEVEL="info"  # debug, info, warn, error
//	TIMBRE_METRICS_ENABLED="true"
//	TIMBRE_METRICS_PORT="9090"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("System plugins: %s\n", cfg.Plugins.SystemDir)
//	fmt.Printf("Poll interval: %v\n", cfg.Plugins.PositionalPollInterval)
//
// # Related Packages
//
//   - pkg/plugins: Uses plugin configuration
//   - pkg/observability: Uses observability configuration
package config
