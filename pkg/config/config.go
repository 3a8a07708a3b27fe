package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/spf13/viper"
)

// Config represents the complete rsemgr configuration.
//
// This structure captures all configurable aspects of the manager including:
//   - Logging configuration
//   - Metrics endpoint
//   - Manager tuning (domain, parallelism, connect retries, throttling)
//   - RSE repository selection (static or badger)
//   - Storage element definitions
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (RSEMGR_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// RSEs are a list rather than a map keyed by tag: viper folds map keys to
// lower case and RSE tags are case-sensitive.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Manager tunes call execution
	Manager ManagerConfig `mapstructure:"manager"`

	// Repository selects where RSE definitions are stored
	Repository RepositoryConfig `mapstructure:"repository"`

	// RSEs defines the storage elements. With a badger repository they are
	// upserted on startup.
	RSEs []rse.Info `mapstructure:"rses" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port for /metrics
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// ManagerConfig tunes the RSE manager.
type ManagerConfig struct {
	// DefaultDomain is used when a call does not name a domain
	// Valid values: lan, wan
	DefaultDomain string `mapstructure:"default_domain" validate:"required,oneof=lan wan"`

	// Parallelism bounds concurrent items inside one plugin call
	Parallelism int `mapstructure:"parallelism" validate:"gte=1"`

	Connect ConnectConfig `mapstructure:"connect"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ConnectConfig bounds handshake retries per candidate protocol.
type ConnectConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gte=0"`
}

// RateLimitConfig throttles storage requests. Zero means unlimited.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// RepositoryConfig specifies the RSE repository.
//
// The Type field determines which implementation is used.
// Only the corresponding type-specific configuration section is used.
type RepositoryConfig struct {
	// Type specifies which repository implementation to use
	// Valid values: static, badger
	Type string `mapstructure:"type" validate:"required,oneof=static badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RSEMGR_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use RSEMGR_ prefix and underscores
	// Example: RSEMGR_MANAGER_PARALLELISM=8
	v.SetEnvPrefix("RSEMGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only overrides keys viper already knows about
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"metrics.enabled", "metrics.port",
		"manager.default_domain", "manager.parallelism",
		"repository.type",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/rsemgr/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rsemgr")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "rsemgr")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
