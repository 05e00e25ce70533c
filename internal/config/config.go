// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
	// ErrNoConfigFile is returned by WatchConfig when no configuration file is in use
	ErrNoConfigFile = errors.New("no configuration file in use")
)

// EnvPrefix prefixes the automatic environment overrides, e.g. INFRA_ADVISOR_SERVER_PORT
const EnvPrefix = "INFRA_ADVISOR"

// Config represents the complete application configuration
type Config struct {
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
	Audit   AuditConfig   `mapstructure:"audit"`
}

// OpenAIConfig contains the hosted model settings
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"apikey"`
	Endpoint    string  `mapstructure:"endpoint"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SessionConfig contains visitor state storage settings
type SessionConfig struct {
	StorageType            string `mapstructure:"storage_type"`
	RedisURL               string `mapstructure:"redis_url"`
	DefaultTTLMinutes      int    `mapstructure:"default_ttl_minutes"`
	MaxSessions            int    `mapstructure:"max_sessions"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
	PendingTimeoutMinutes  int    `mapstructure:"pending_timeout_minutes"`
}

// DefaultTTL returns the inactivity expiry of a visitor session
func (s SessionConfig) DefaultTTL() time.Duration {
	return time.Duration(s.DefaultTTLMinutes) * time.Minute
}

// CleanupInterval returns the period of the expired session sweep
func (s SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMinutes) * time.Minute
}

// PendingTimeout returns how long an unanswered exchange keeps its visitor busy
func (s SessionConfig) PendingTimeout() time.Duration {
	return time.Duration(s.PendingTimeoutMinutes) * time.Minute
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuditConfig contains consultation audit log settings
type AuditConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	StorageType string `mapstructure:"storage_type"`
	FilePath    string `mapstructure:"file_path"`
	DBPath      string `mapstructure:"db_path"`
}

// Warnings lists settings that are valid but have caveats worth logging at startup
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Session.StorageType == "redis" {
		warnings = append(warnings,
			"session.storage_type is redis but visitor locking is per process: run a single replica, "+
				"or concurrent requests for one visitor on different replicas can start two exchanges")
	}
	return warnings
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	ValidateRequired bool
	// Overrides are applied last, above file and environment values
	Overrides map[string]interface{}
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if _, err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The file is optional; environment variables can carry everything
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// An empty default makes the key visible to AutomaticEnv during Unmarshal
	v.SetDefault("openai.apikey", "")
	v.SetDefault("openai.endpoint", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 2000)
	v.SetDefault("openai.temperature", 0.3)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("session.storage_type", "memory")
	v.SetDefault("session.redis_url", "")
	v.SetDefault("session.default_ttl_minutes", 60)
	v.SetDefault("session.max_sessions", 1000)
	v.SetDefault("session.cleanup_interval_minutes", 5)
	v.SetDefault("session.pending_timeout_minutes", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.storage_type", "file")
	v.SetDefault("audit.file_path", "./data/audit.jsonl")
	v.SetDefault("audit.db_path", "./data/audit.db")
}

// setConfigFile points viper at the configuration file and reports whether
// one will be read. An explicit path must exist; the default locations are optional.
func setConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return false, fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return true, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return false, fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return true, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := []struct {
		env string
		key string
	}{
		{"API_KEY", "openai.apikey"},
		{"OPENAI_API_KEY", "openai.apikey"},
		{"OPENAI_ENDPOINT", "openai.endpoint"},
		{"OPENAI_MODEL", "openai.model"},
		{"PORT", "server.port"},
		{"REDIS_URL", "session.redis_url"},
		{"LOG_LEVEL", "logging.level"},
		{"LOG_FORMAT", "logging.format"},
	}

	// Later entries win, so OPENAI_API_KEY beats API_KEY
	for _, m := range envMappings {
		if value := os.Getenv(m.env); value != "" {
			v.Set(m.key, value)
		}
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errs []ValidationError

	if config.OpenAI.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "openai.apikey",
			Message: "API key is required. Set via config file or OPENAI_API_KEY environment variable",
		})
	}

	if config.OpenAI.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "openai.model",
			Message: "model is required",
		})
	}

	if config.OpenAI.MaxTokens <= 0 {
		errs = append(errs, ValidationError{
			Field:   "openai.max_tokens",
			Message: "max_tokens must be greater than 0",
		})
	}

	if config.OpenAI.Temperature < 0 || config.OpenAI.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "openai.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	for _, origin := range config.Server.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, ValidationError{
				Field:   "server.allowed_origins",
				Message: fmt.Sprintf("origin %q must start with http:// or https://", origin),
			})
		}
	}

	validStorageTypes := []string{"memory", "redis"}
	if !contains(validStorageTypes, config.Session.StorageType) {
		errs = append(errs, ValidationError{
			Field:   "session.storage_type",
			Message: fmt.Sprintf("storage type must be one of: %s", strings.Join(validStorageTypes, ", ")),
		})
	}

	if config.Session.StorageType == "redis" && config.Session.RedisURL == "" {
		errs = append(errs, ValidationError{
			Field:   "session.redis_url",
			Message: "redis URL is required for redis storage. Set via config file or REDIS_URL environment variable",
		})
	}

	if config.Session.DefaultTTLMinutes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.default_ttl_minutes",
			Message: "default_ttl_minutes must be greater than 0",
		})
	}

	if config.Session.MaxSessions <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.max_sessions",
			Message: "max_sessions must be greater than 0",
		})
	}

	if config.Session.CleanupIntervalMinutes < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.cleanup_interval_minutes",
			Message: "cleanup_interval_minutes must be greater than or equal to 0",
		})
	}

	if config.Session.PendingTimeoutMinutes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.pending_timeout_minutes",
			Message: "pending_timeout_minutes must be greater than 0",
		})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if config.Audit.Enabled {
		errs = append(errs, validateAudit(config.Audit)...)
	}

	if len(errs) > 0 {
		var errorMessages []string
		for _, err := range errs {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

func validateAudit(audit AuditConfig) []ValidationError {
	var errs []ValidationError

	switch audit.StorageType {
	case "file":
		if audit.FilePath == "" {
			errs = append(errs, ValidationError{Field: "audit.file_path", Message: "audit file path is required"})
		}
	case "sqlite":
		if audit.DBPath == "" {
			errs = append(errs, ValidationError{Field: "audit.db_path", Message: "audit database path is required"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "audit.storage_type",
			Message: "storage type must be one of: file, sqlite",
		})
	}

	return errs
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = maskValue(masked.OpenAI.APIKey)
	}
	if masked.Session.RedisURL != "" {
		masked.Session.RedisURL = maskValue(masked.Session.RedisURL)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

// contains checks if a slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// WatchConfig reloads the configuration whenever the file in use changes and
// passes every successfully validated result to callback.
func WatchConfig(configPath string, logger *zap.Logger, callback func(*Config)) error {
	v := viper.New()

	found, err := setConfigFile(v, configPath)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoConfigFile
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed", zap.String("file", filepath.Base(e.Name)), zap.String("op", e.Op.String()))

		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			ValidateRequired: true,
		})
		if err != nil {
			logger.Warn("Failed to reload config", zap.Error(err))
			return
		}

		callback(config)
	})
	v.WatchConfig()

	return nil
}
