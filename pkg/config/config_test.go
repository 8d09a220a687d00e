package config

import (
	"os"
	"testing"
	"time"

	"github.com/timbrevoice/timbre/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true string", envValue: "true", defaultValue: false, want: true},
		{name: "mixed-case true", envValue: "TRUE", defaultValue: false, want: true},
		{name: "numeric one", envValue: "1", defaultValue: false, want: true},
		{name: "false string", envValue: "false", defaultValue: true, want: false},
		{name: "unset uses default", envValue: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			if got := getEnvBool(key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		want         time.Duration
	}{
		{name: "valid duration", envValue: "250ms", defaultValue: time.Second, want: 250 * time.Millisecond},
		{name: "invalid duration uses default", envValue: "soon", defaultValue: time.Second, want: time.Second},
		{name: "unset uses default", envValue: "", defaultValue: 2 * time.Second, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			if got := getEnvDuration(key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{input: "debug", want: observability.DebugLevel},
		{input: "info", want: observability.InfoLevel},
		{input: "warn", want: observability.WarnLevel},
		{input: "warning", want: observability.WarnLevel},
		{input: "ERROR", want: observability.ErrorLevel},
		{input: "verbose", want: observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestLoadConfig tests loading the full configuration
func TestLoadConfig(t *testing.T) {
	os.Setenv("TIMBRE_SYSTEM_PLUGIN_DIR", "/opt/timbre/plugins")
	os.Setenv("TIMBRE_POSITIONAL_POLL_INTERVAL", "500ms")
	os.Setenv("TIMBRE_LOG_LEVEL", "debug")
	os.Setenv("TIMBRE_METRICS_ENABLED", "false")
	defer func() {
		os.Unsetenv("TIMBRE_SYSTEM_PLUGIN_DIR")
		os.Unsetenv("TIMBRE_POSITIONAL_POLL_INTERVAL")
		os.Unsetenv("TIMBRE_LOG_LEVEL")
		os.Unsetenv("TIMBRE_METRICS_ENABLED")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Plugins.SystemDir != "/opt/timbre/plugins" {
		t.Errorf("SystemDir = %v, want /opt/timbre/plugins", cfg.Plugins.SystemDir)
	}
	if cfg.Plugins.PositionalPollInterval != 500*time.Millisecond {
		t.Errorf("PositionalPollInterval = %v, want 500ms", cfg.Plugins.PositionalPollInterval)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}
	if cfg.Observability.MetricsEnabled {
		t.Error("MetricsEnabled = true, want false")
	}
}

// TestValidate tests configuration validation failures
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "no plugin directories",
			mutate: func(c *Config) {
				c.Plugins.SystemDir = ""
				c.Plugins.UserDir = ""
			},
			wantErr: true,
		},
		{
			name: "non-positive poll interval",
			mutate: func(c *Config) {
				c.Plugins.PositionalPollInterval = 0
			},
			wantErr: true,
		},
		{
			name: "metrics enabled without port",
			mutate: func(c *Config) {
				c.Observability.MetricsEnabled = true
				c.Observability.MetricsPort = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Plugins: PluginConfig{
					SystemDir:              "/usr/lib/timbre/plugins",
					PositionalPollInterval: time.Second,
					ProcessCacheTTL:        time.Second,
				},
				Observability: ObservabilityConfig{
					MetricsEnabled: true,
					MetricsPort:    "9090",
				},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
