// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Agents     AgentsConfig     `mapstructure:"agents"`
}

// DatabaseConfig holds all database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
}

// ProvidersConfig holds configuration for the two text-generation providers.
// Secondary is optional; fallback is only attempted when its credentials are set.
type ProvidersConfig struct {
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
	// CallTimeout bounds a single generation call against either provider.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// ProviderConfig identifies one external text-generation provider.
type ProviderConfig struct {
	Name    string `mapstructure:"name"`     // "openai" or "anthropic"
	BaseURL string `mapstructure:"base_url"` // override for self-hosted gateways
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Configured reports whether this provider has usable credentials.
func (pc *ProviderConfig) Configured() bool {
	return pc.Name != "" && pc.APIKey != ""
}

// ResilienceConfig groups circuit-breaker and retry policy settings.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
}

// CircuitBreakerConfig defines per-provider breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// RetryConfig defines transient-error retry behavior.
type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
}

// PipelineConfig holds stage progression and recovery policy settings.
type PipelineConfig struct {
	// MaxStageRecoveries bounds automatic re-runs of a failed stage.
	MaxStageRecoveries int `mapstructure:"max_stage_recoveries"`
	// RecoveryCooldown is the fixed wait before a failed stage is re-run.
	RecoveryCooldown time.Duration `mapstructure:"recovery_cooldown"`
	// CriticalStages lists stages whose exhausted failure aborts the project.
	CriticalStages []int `mapstructure:"critical_stages"`
}

// IsCriticalStage reports whether exhausting recovery on the given stage
// must fail the whole project rather than degrade gracefully.
func (pc *PipelineConfig) IsCriticalStage(stage int) bool {
	for _, s := range pc.CriticalStages {
		if s == stage {
			return true
		}
	}
	return false
}

// AgentsConfig holds agent registry configuration.
type AgentsConfig struct {
	// DefinitionsPath optionally points to a YAML file with agent definitions
	// that replace the built-in set.
	DefinitionsPath string `mapstructure:"definitions_path"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	// Set config file if provided, otherwise search in standard locations
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/venturepilot/")
		v.AddConfigPath("$HOME/.venturepilot")
	}

	// Configure viper to use environment variables
	v.SetEnvPrefix("VENTUREPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the viper configuration into our config struct.
	// This will overwrite the default values with any values found in the config file or env vars.
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// The resilience and pipeline defaults are the policy constants the
// orchestration core is specified against; override with care.
func defaultConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Database: "venturepilot.db",
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/venturepilot.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: false,
				},
			},
			Levels: map[string]string{
				"orchestrator": "INFO",
				"scheduler":    "INFO",
				"resilience":   "WARN",
				"provider":     "INFO",
				"database":     "INFO",
				"api":          "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Providers: ProvidersConfig{
			Primary: ProviderConfig{
				Name:  "openai",
				Model: "gpt-4o",
			},
			Secondary:   ProviderConfig{},
			CallTimeout: 120 * time.Second,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     60 * time.Second,
			},
			Retry: RetryConfig{
				MaxRetries:    3,
				BaseDelay:     1000 * time.Millisecond,
				BackoffFactor: 2.0,
				MaxDelay:      30 * time.Second,
			},
		},
		Pipeline: PipelineConfig{
			MaxStageRecoveries: 3,
			RecoveryCooldown:   5 * time.Second,
			CriticalStages:     []int{1, 2},
		},
		Agents: AgentsConfig{
			DefinitionsPath: "",
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.Agents.DefinitionsPath != "" {
		c.Agents.DefinitionsPath = expandPath(c.Agents.DefinitionsPath)
	}
	for i := range c.Log.Output {
		if c.Log.Output[i].Path != "" {
			c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
		}
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	path = os.ExpandEnv(path)

	return path
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	validLogLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Providers.Primary.Name == "" {
		return errors.New("providers.primary.name is required")
	}

	if c.Resilience.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("resilience.circuit_breaker.failure_threshold must be positive, got: %d", c.Resilience.CircuitBreaker.FailureThreshold)
	}
	if c.Resilience.Retry.MaxRetries < 0 {
		return fmt.Errorf("resilience.retry.max_retries must not be negative, got: %d", c.Resilience.Retry.MaxRetries)
	}
	if c.Resilience.Retry.BackoffFactor < 1 {
		return fmt.Errorf("resilience.retry.backoff_factor must be >= 1, got: %g", c.Resilience.Retry.BackoffFactor)
	}

	if c.Pipeline.MaxStageRecoveries < 0 {
		return fmt.Errorf("pipeline.max_stage_recoveries must not be negative, got: %d", c.Pipeline.MaxStageRecoveries)
	}
	for _, s := range c.Pipeline.CriticalStages {
		if s < 1 || s > 6 {
			return fmt.Errorf("pipeline.critical_stages contains invalid stage: %d", s)
		}
	}

	return nil
}

// GetDSN returns the database connection string.
func (dc *DatabaseConfig) GetDSN() string {
	switch dc.Driver {
	case "sqlite":
		dsn := dc.Database
		if dsn == ":memory:" {
			dsn = "file::memory:?cache=shared"
		}
		return dsn
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.Database, dc.SSLMode)
	default:
		// Fallback for other drivers that might just use a connection string directly
		return dc.Database
	}
}
